// Package ledger is the only place account balances and counters are
// mutated. Every change goes through a fetch, compute, conditional-write
// cycle so concurrent requests against the same account can never both apply
// from the same pre-state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spin-rewards/internal/models"
	"spin-rewards/internal/store"
)

// Mutate computes the next account state from a freshly read snapshot.
// Returning an error aborts the apply with no store write; such errors are
// business rejections and are never retried.
type Mutate func(current models.Account) (store.AccountState, error)

// Record is the audit fact appended after a committed write. The append is
// best-effort: the balance change is authoritative once the conditional
// write lands.
type Record struct {
	Type      models.ActionType
	Amount    decimal.Decimal
	RefereeID *int64
}

type Applier struct {
	store    store.Store
	logger   *slog.Logger
	attempts int
}

// New returns an Applier making at most attempts passes over the
// fetch-compute-write cycle per Apply call.
func New(st store.Store, logger *slog.Logger, attempts int) *Applier {
	if attempts < 1 {
		attempts = 1
	}
	return &Applier{store: st, logger: logger, attempts: attempts}
}

// Apply commits one account mutation. A conditional-write conflict or a
// retryable store failure restarts the cycle from the fetch, up to the
// configured attempt bound; the last such error is returned once the bound
// is hit. After a committed write the audit record (if any) is appended and
// the post-write account is returned.
func (a *Applier) Apply(ctx context.Context, userID int64, mutate Mutate, rec *Record) (models.Account, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		current, err := a.store.GetAccount(ctx, userID)
		if err != nil {
			return models.Account{}, err
		}

		next, err := mutate(current)
		if err != nil {
			return models.Account{}, err
		}

		updated, err := a.store.UpdateAccount(ctx, userID, store.StateOf(current), next)
		if err != nil {
			if retryable(err) && attempt < a.attempts {
				lastErr = err
				a.logger.Debug("conditional update did not land, retrying",
					"user_id", userID, "attempt", attempt, "error", err)
				continue
			}
			if retryable(err) {
				return models.Account{}, fmt.Errorf("retries exhausted: %w", err)
			}
			return models.Account{}, err
		}

		if rec != nil {
			a.appendRecord(ctx, userID, *rec)
		}
		return updated, nil
	}
	return models.Account{}, fmt.Errorf("retries exhausted: %w", lastErr)
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrUnavailable)
}

func (a *Applier) appendRecord(ctx context.Context, userID int64, rec Record) {
	record := models.ActionRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      rec.Type,
		Amount:    rec.Amount,
		RefereeID: rec.RefereeID,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendAction(ctx, record); err != nil {
		a.logger.Warn("audit record append failed, balance change stands",
			"user_id", userID, "type", rec.Type, "error", err)
	}
}
