package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"spin-rewards/internal/models"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional update matched zero rows because the
	// account changed after it was read.
	ErrConflict = errors.New("account changed concurrently")
	// ErrUnavailable wraps transport and backend failures that are worth
	// retrying at the ledger level.
	ErrUnavailable = errors.New("store unavailable")
)

// SettingWheelSectors is the settings key holding the wheel sector table as a
// comma-separated list.
const SettingWheelSectors = "wheel_sectors"

// AccountState is the mutable slice of an account row. A conditional update
// succeeds only while the stored row still carries the exact state that was
// read; every ledger mutation touches at least one of these columns, so any
// concurrent write is detected.
type AccountState struct {
	Balance    decimal.Decimal
	AdsToday   int
	SpinsToday int
}

// StateOf extracts the conditional-update state from an account row.
func StateOf(a models.Account) AccountState {
	return AccountState{
		Balance:    a.Balance,
		AdsToday:   a.AdsToday,
		SpinsToday: a.SpinsToday,
	}
}

// Store is the persistence boundary of the engine. Implementations: rest
// (PostgREST-compatible HTTP), sqlstore (Postgres/SQLite), storetest (in-memory
// fake for tests).
type Store interface {
	// EnsureAccount creates the account if it does not exist and reports
	// whether a row was created. An existing row is never modified, which
	// makes registration idempotent.
	EnsureAccount(ctx context.Context, userID int64, referredBy *int64) (bool, error)

	GetAccount(ctx context.Context, userID int64) (models.Account, error)

	// UpdateAccount rewrites the mutable account state only if the stored
	// row still matches match. The returned account reflects the row after
	// the write, with updated_at stamped by the backend. Zero matched rows
	// surface as ErrConflict.
	UpdateAccount(ctx context.Context, userID int64, match, set AccountState) (models.Account, error)

	// CountReferrals counts accounts registered with referrerID as referrer.
	CountReferrals(ctx context.Context, referrerID int64) (int, error)

	// ListAccounts pages through accounts, newest first.
	ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error)

	// AppendAction appends one immutable audit record.
	AppendAction(ctx context.Context, rec models.ActionRecord) error

	CreateWithdrawal(ctx context.Context, w models.Withdrawal) error

	// ListWithdrawals returns a user's withdrawal history, newest first.
	ListWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error)

	// ListWithdrawalsByStatus pages withdrawals for the back office; an empty
	// status selects all.
	ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error)

	// SumWithdrawalsSince totals a user's withdrawal amounts created at or
	// after the cutoff, regardless of status.
	SumWithdrawalsSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error)

	// GetSetting returns the raw value for key, ErrNotFound when unset.
	GetSetting(ctx context.Context, key string) (string, error)

	// PutSetting inserts or replaces a setting value.
	PutSetting(ctx context.Context, key, value string) error

	Close() error
}
