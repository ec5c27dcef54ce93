// Package sqlstore implements the store on database/sql, speaking either
// PostgreSQL (pgx) or SQLite (modernc) from the same query set.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"spin-rewards/internal/models"
	"spin-rewards/internal/store"
)

type Store struct {
	db     *sql.DB
	dbType string // "postgres" or "sqlite"
}

func New(ctx context.Context, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	var dbType string

	if dsn == "" || strings.HasPrefix(dsn, "sqlite:") {
		dbType = "sqlite"
		sqlitePath := "data.db"
		if strings.HasPrefix(dsn, "sqlite:") {
			sqlitePath = strings.TrimPrefix(dsn, "sqlite:")
		}
		db, err = sql.Open("sqlite", sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return nil, err
		}
	} else {
		dbType = "postgres"
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	s := &Store{db: db, dbType: dbType}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.dbType == "sqlite" {
		schema = sqliteSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ph returns the placeholder for the database type.
func (s *Store) ph(n int) string {
	if s.dbType == "sqlite" {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Amounts are TEXT in SQLite on purpose: NUMERIC affinity would coerce them
// to floats and break exact balance matching in conditional updates.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id INTEGER PRIMARY KEY,
    balance TEXT NOT NULL DEFAULT '0',
    ads_today INTEGER NOT NULL DEFAULT 0,
    spins_today INTEGER NOT NULL DEFAULT 0,
    referred_by INTEGER,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    amount TEXT NOT NULL DEFAULT '0',
    referee_id INTEGER,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawals (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    destination TEXT NOT NULL,
    amount TEXT NOT NULL,
    reference TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_referred_by ON accounts(referred_by);
CREATE INDEX IF NOT EXISTS idx_actions_user ON actions(user_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id BIGINT PRIMARY KEY,
    balance NUMERIC NOT NULL DEFAULT 0,
    ads_today INTEGER NOT NULL DEFAULT 0,
    spins_today INTEGER NOT NULL DEFAULT 0,
    referred_by BIGINT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    type TEXT NOT NULL,
    amount NUMERIC NOT NULL DEFAULT 0,
    referee_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawals (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    destination TEXT NOT NULL,
    amount NUMERIC NOT NULL,
    reference TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_referred_by ON accounts(referred_by);
CREATE INDEX IF NOT EXISTS idx_actions_user ON actions(user_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id);
CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);
`

const accountColumns = "user_id, balance, ads_today, spins_today, referred_by, created_at, updated_at"

func (s *Store) EnsureAccount(ctx context.Context, userID int64, referredBy *int64) (bool, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
INSERT INTO accounts (user_id, balance, ads_today, spins_today, referred_by, created_at, updated_at)
VALUES (%s, %s, 0, 0, %s, %s, %s)
ON CONFLICT (user_id) DO NOTHING`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))

	result, err := s.db.ExecContext(ctx, query, userID, decimal.Zero, referredByArg(referredBy), now, now)
	if err != nil {
		return false, fmt.Errorf("%w: ensure account %d: %v", store.ErrUnavailable, userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: ensure account %d: %v", store.ErrUnavailable, userID, err)
	}
	return n > 0, nil
}

func (s *Store) GetAccount(ctx context.Context, userID int64) (models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE user_id = %s", accountColumns, s.ph(1))
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, store.ErrNotFound
		}
		return models.Account{}, fmt.Errorf("%w: get account %d: %v", store.ErrUnavailable, userID, err)
	}
	return account, nil
}

func (s *Store) UpdateAccount(ctx context.Context, userID int64, match, set store.AccountState) (models.Account, error) {
	query := fmt.Sprintf(`
UPDATE accounts
SET balance = %s, ads_today = %s, spins_today = %s, updated_at = %s
WHERE user_id = %s AND balance = %s AND ads_today = %s AND spins_today = %s
RETURNING %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), accountColumns)

	row := s.db.QueryRowContext(ctx, query,
		set.Balance, set.AdsToday, set.SpinsToday, time.Now().UTC(),
		userID, match.Balance, match.AdsToday, match.SpinsToday,
	)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, store.ErrConflict
		}
		return models.Account{}, fmt.Errorf("%w: update account %d: %v", store.ErrUnavailable, userID, err)
	}
	return account, nil
}

func (s *Store) CountReferrals(ctx context.Context, referrerID int64) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM accounts WHERE referred_by = %s", s.ph(1))
	var count int
	if err := s.db.QueryRowContext(ctx, query, referrerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count referrals of %d: %v", store.ErrUnavailable, referrerID, err)
	}
	return count, nil
}

func (s *Store) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts ORDER BY created_at DESC LIMIT %s OFFSET %s",
		accountColumns, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: list accounts: %v", store.ErrUnavailable, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) AppendAction(ctx context.Context, rec models.ActionRecord) error {
	query := fmt.Sprintf(`
INSERT INTO actions (id, user_id, type, amount, referee_id, created_at)
VALUES (%s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, string(rec.Type), rec.Amount, referredByArg(rec.RefereeID), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: append %s action for %d: %v", store.ErrUnavailable, rec.Type, rec.UserID, err)
	}
	return nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, w models.Withdrawal) error {
	query := fmt.Sprintf(`
INSERT INTO withdrawals (id, user_id, destination, amount, reference, status, created_at)
VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))

	_, err := s.db.ExecContext(ctx, query,
		w.ID, w.UserID, w.Destination, w.Amount, w.Reference, string(w.Status), w.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: create withdrawal for %d: %v", store.ErrUnavailable, w.UserID, err)
	}
	return nil
}

const withdrawalColumns = "id, user_id, destination, amount, reference, status, created_at"

func (s *Store) ListWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	query := fmt.Sprintf("SELECT %s FROM withdrawals WHERE user_id = %s ORDER BY created_at DESC",
		withdrawalColumns, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list withdrawals of %d: %v", store.ErrUnavailable, userID, err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

func (s *Store) ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error) {
	var query string
	var args []any
	if status == "" {
		query = fmt.Sprintf("SELECT %s FROM withdrawals ORDER BY created_at DESC LIMIT %s OFFSET %s",
			withdrawalColumns, s.ph(1), s.ph(2))
		args = []any{limit, offset}
	} else {
		query = fmt.Sprintf("SELECT %s FROM withdrawals WHERE status = %s ORDER BY created_at DESC LIMIT %s OFFSET %s",
			withdrawalColumns, s.ph(1), s.ph(2), s.ph(3))
		args = []any{string(status), limit, offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list withdrawals by status: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

// SumWithdrawalsSince totals amounts in Go rather than with SQL SUM so the
// SQLite TEXT amounts never go through float coercion.
func (s *Store) SumWithdrawalsSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	query := fmt.Sprintf("SELECT amount FROM withdrawals WHERE user_id = %s AND created_at >= %s",
		s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, query, userID, since.UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: sum withdrawals of %d: %v", store.ErrUnavailable, userID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("%w: sum withdrawals of %d: %v", store.ErrUnavailable, userID, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf("SELECT value FROM settings WHERE key = %s", s.ph(1))
	var value string
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("%w: get setting %s: %v", store.ErrUnavailable, key, err)
	}
	return value, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
INSERT INTO settings (key, value) VALUES (%s, %s)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("%w: put setting %s: %v", store.ErrUnavailable, key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account
	var referredBy sql.NullInt64
	if err := row.Scan(
		&a.UserID,
		&a.Balance,
		&a.AdsToday,
		&a.SpinsToday,
		&referredBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return models.Account{}, err
	}
	a.ReferredBy = nullableInt64(referredBy)
	return a, nil
}

func collectWithdrawals(rows *sql.Rows) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		var status string
		if err := rows.Scan(&w.ID, &w.UserID, &w.Destination, &w.Amount, &w.Reference, &status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan withdrawal: %v", store.ErrUnavailable, err)
		}
		w.Status = models.WithdrawalStatus(status)
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

func referredByArg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	val := n.Int64
	return &val
}
