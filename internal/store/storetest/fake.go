// Package storetest provides a mutex-guarded in-memory store for tests. Its
// conditional update has the same semantics as the real backends, so the
// concurrency discipline of callers can be exercised without a database.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spin-rewards/internal/models"
	"spin-rewards/internal/store"
)

type Fake struct {
	mu          sync.Mutex
	accounts    map[int64]models.Account
	actions     []models.ActionRecord
	withdrawals []models.Withdrawal
	settings    map[string]string

	updateErrs []error
	appendErrs []error

	// GetHook runs after a snapshot is taken, outside the lock. Tests use it
	// to line concurrent readers up on the same pre-state.
	GetHook func(userID int64)
}

func New() *Fake {
	return &Fake{
		accounts: make(map[int64]models.Account),
		settings: make(map[string]string),
	}
}

// Seed installs an account as-is, bypassing EnsureAccount defaults.
func (f *Fake) Seed(a models.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.UserID] = a
}

// FailNextUpdate queues an error returned by the next UpdateAccount call
// instead of attempting the write.
func (f *Fake) FailNextUpdate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErrs = append(f.updateErrs, err)
}

// FailNextAppend queues an error for the next AppendAction call.
func (f *Fake) FailNextAppend(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendErrs = append(f.appendErrs, err)
}

// Actions returns a copy of all appended audit records.
func (f *Fake) Actions() []models.ActionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ActionRecord, len(f.actions))
	copy(out, f.actions)
	return out
}

// Withdrawals returns a copy of all withdrawal rows.
func (f *Fake) Withdrawals() []models.Withdrawal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Withdrawal, len(f.withdrawals))
	copy(out, f.withdrawals)
	return out
}

func (f *Fake) EnsureAccount(_ context.Context, userID int64, referredBy *int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[userID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	f.accounts[userID] = models.Account{
		UserID:     userID,
		Balance:    decimal.Zero,
		ReferredBy: referredBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return true, nil
}

func (f *Fake) GetAccount(_ context.Context, userID int64) (models.Account, error) {
	f.mu.Lock()
	account, ok := f.accounts[userID]
	f.mu.Unlock()
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	if f.GetHook != nil {
		f.GetHook(userID)
	}
	return account, nil
}

func (f *Fake) UpdateAccount(_ context.Context, userID int64, match, set store.AccountState) (models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		return models.Account{}, err
	}

	stored, ok := f.accounts[userID]
	if !ok {
		return models.Account{}, store.ErrConflict
	}
	if !stored.Balance.Equal(match.Balance) ||
		stored.AdsToday != match.AdsToday ||
		stored.SpinsToday != match.SpinsToday {
		return models.Account{}, store.ErrConflict
	}

	stored.Balance = set.Balance
	stored.AdsToday = set.AdsToday
	stored.SpinsToday = set.SpinsToday
	stored.UpdatedAt = time.Now().UTC()
	f.accounts[userID] = stored
	return stored, nil
}

func (f *Fake) CountReferrals(_ context.Context, referrerID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.accounts {
		if a.ReferredBy != nil && *a.ReferredBy == referrerID {
			count++
		}
	}
	return count, nil
}

func (f *Fake) ListAccounts(_ context.Context, limit, offset int) ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]models.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (f *Fake) AppendAction(_ context.Context, rec models.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		return err
	}
	f.actions = append(f.actions, rec)
	return nil
}

func (f *Fake) CreateWithdrawal(_ context.Context, w models.Withdrawal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, w)
	return nil
}

func (f *Fake) ListWithdrawals(_ context.Context, userID int64) ([]models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range f.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) ListWithdrawalsByStatus(_ context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range f.withdrawals {
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) SumWithdrawalsSince(_ context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, w := range f.withdrawals {
		if w.UserID == userID && !w.CreatedAt.Before(since) {
			total = total.Add(w.Amount)
		}
	}
	return total, nil
}

func (f *Fake) GetSetting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (f *Fake) PutSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}

func (f *Fake) Close() error {
	return nil
}
