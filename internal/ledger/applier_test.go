package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spin-rewards/internal/models"
	"spin-rewards/internal/store"
	"spin-rewards/internal/store/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAccount(fake *storetest.Fake, userID int64, balance string) {
	now := time.Now().UTC()
	fake.Seed(models.Account{
		UserID:    userID,
		Balance:   decimal.RequireFromString(balance),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func creditTen(current models.Account) (store.AccountState, error) {
	next := store.StateOf(current)
	next.Balance = next.Balance.Add(decimal.NewFromInt(10))
	next.AdsToday++
	return next, nil
}

func TestApply_CommitsAndAppendsRecord(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "100")
	applier := New(fake, testLogger(), 3)

	updated, err := applier.Apply(context.Background(), 42, creditTen,
		&Record{Type: models.ActionWatchAd, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, 1, updated.AdsToday)

	actions := fake.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionWatchAd, actions[0].Type)
	assert.Equal(t, int64(42), actions[0].UserID)
	assert.NotEmpty(t, actions[0].ID)
}

func TestApply_TwoConcurrentCallersBothLand(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "0")

	// Hold both callers until each has read the same pre-state, forcing one
	// conditional write to conflict and retry.
	var fetches atomic.Int32
	release := make(chan struct{})
	fake.GetHook = func(int64) {
		if fetches.Add(1) == 2 {
			close(release)
		}
		if fetches.Load() <= 2 {
			<-release
		}
	}

	applier := New(fake, testLogger(), 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = applier.Apply(context.Background(), 42, creditTen,
				&Record{Type: models.ActionWatchAd, Amount: decimal.NewFromInt(10)})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	account, err := fake.GetAccount(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(20)), "balance %s", account.Balance)
	assert.Equal(t, 2, account.AdsToday)
	assert.Len(t, fake.Actions(), 2)
}

func TestApply_ManyConcurrentCallersLoseNothing(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "0")
	applier := New(fake, testLogger(), 50)

	const callers = 20
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := applier.Apply(context.Background(), 42, creditTen, nil); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	account, err := fake.GetAccount(context.Background(), 42)
	require.NoError(t, err)
	want := decimal.NewFromInt(int64(succeeded.Load()) * 10)
	assert.True(t, account.Balance.Equal(want), "balance %s, want %s", account.Balance, want)
	assert.Equal(t, int(succeeded.Load()), account.AdsToday)
}

func TestApply_RetriesExhausted(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "100")
	fake.FailNextUpdate(store.ErrConflict)
	fake.FailNextUpdate(store.ErrConflict)
	fake.FailNextUpdate(store.ErrConflict)

	applier := New(fake, testLogger(), 3)
	_, err := applier.Apply(context.Background(), 42, creditTen,
		&Record{Type: models.ActionWatchAd, Amount: decimal.NewFromInt(10)})

	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Empty(t, fake.Actions(), "no audit record without a committed write")

	account, getErr := fake.GetAccount(context.Background(), 42)
	require.NoError(t, getErr)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)), "balance must be untouched")
}

func TestApply_TransientUpstreamFailureIsRetried(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "100")
	fake.FailNextUpdate(store.ErrUnavailable)

	applier := New(fake, testLogger(), 3)
	updated, err := applier.Apply(context.Background(), 42, creditTen, nil)
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(110)))
}

func TestApply_MutateErrorAbortsWithoutWrite(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "100")
	applier := New(fake, testLogger(), 3)

	rejection := errors.New("not allowed")
	calls := 0
	_, err := applier.Apply(context.Background(), 42, func(models.Account) (store.AccountState, error) {
		calls++
		return store.AccountState{}, rejection
	}, &Record{Type: models.ActionWatchAd})

	assert.ErrorIs(t, err, rejection)
	assert.Equal(t, 1, calls, "business rejections are not retried")
	assert.Empty(t, fake.Actions())

	account, getErr := fake.GetAccount(context.Background(), 42)
	require.NoError(t, getErr)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))
}

func TestApply_AppendFailureDoesNotUnwindBalance(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "100")
	fake.FailNextAppend(errors.New("actions table offline"))

	applier := New(fake, testLogger(), 3)
	updated, err := applier.Apply(context.Background(), 42, creditTen,
		&Record{Type: models.ActionWatchAd, Amount: decimal.NewFromInt(10)})

	require.NoError(t, err, "append failure must not fail the action")
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(110)), "response reports the committed balance")
	assert.Empty(t, fake.Actions())
}

func TestApply_NoRecordRequested(t *testing.T) {
	fake := storetest.New()
	seedAccount(fake, 42, "100")
	applier := New(fake, testLogger(), 3)

	_, err := applier.Apply(context.Background(), 42, creditTen, nil)
	require.NoError(t, err)
	assert.Empty(t, fake.Actions())
}

func TestApply_MissingAccount(t *testing.T) {
	fake := storetest.New()
	applier := New(fake, testLogger(), 3)

	_, err := applier.Apply(context.Background(), 42, creditTen, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
