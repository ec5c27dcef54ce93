package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spin-rewards/internal/models"
	"spin-rewards/internal/store"
)

const testKey = "service-key"

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, testKey, 5*time.Second)
}

func TestEnsureAccount_QueryShape(t *testing.T) {
	var got *http.Request
	var gotBody []map[string]any
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"user_id":42,"balance":0,"ads_today":0,"spins_today":0,"created_at":"2025-03-14T12:00:00Z","updated_at":"2025-03-14T12:00:00Z"}]`))
	})

	referrer := int64(7)
	created, err := s.EnsureAccount(context.Background(), 42, &referrer)
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/accounts", got.URL.Path)
	assert.Equal(t, "user_id", got.URL.Query().Get("on_conflict"))
	assert.Contains(t, got.Header.Get("Prefer"), "resolution=ignore-duplicates")
	assert.Contains(t, got.Header.Get("Prefer"), "return=representation")
	assert.Equal(t, testKey, got.Header.Get("apikey"))
	assert.Equal(t, "Bearer "+testKey, got.Header.Get("Authorization"))

	require.Len(t, gotBody, 1)
	assert.Equal(t, float64(42), gotBody[0]["user_id"])
	assert.Equal(t, float64(7), gotBody[0]["referred_by"])
}

func TestEnsureAccount_ExistingRowIgnored(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		// Duplicate rows are ignored, so the representation is empty.
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[]`))
	})

	created, err := s.EnsureAccount(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGetAccount(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts", r.URL.Path)
		assert.Equal(t, "eq.42", r.URL.Query().Get("user_id"))
		w.Write([]byte(`[{"user_id":42,"balance":150.5,"ads_today":3,"spins_today":1,"referred_by":7,"created_at":"2025-03-14T12:00:00+00:00","updated_at":"2025-03-14T13:00:00+00:00"}]`))
	})

	account, err := s.GetAccount(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), account.UserID)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("150.5")))
	assert.Equal(t, 3, account.AdsToday)
	assert.Equal(t, 1, account.SpinsToday)
	require.NotNil(t, account.ReferredBy)
	assert.Equal(t, int64(7), *account.ReferredBy)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := s.GetAccount(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAccount_ConditionalPatch(t *testing.T) {
	var got *http.Request
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`[{"user_id":42,"balance":160.5,"ads_today":4,"spins_today":1,"created_at":"2025-03-14T12:00:00Z","updated_at":"2025-03-14T14:00:00Z"}]`))
	})

	match := store.AccountState{Balance: decimal.RequireFromString("150.5"), AdsToday: 3, SpinsToday: 1}
	set := store.AccountState{Balance: decimal.RequireFromString("160.5"), AdsToday: 4, SpinsToday: 1}
	account, err := s.UpdateAccount(context.Background(), 42, match, set)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("160.5")))
	assert.Equal(t, 4, account.AdsToday)

	assert.Equal(t, http.MethodPatch, got.Method)
	query := got.URL.Query()
	assert.Equal(t, "eq.42", query.Get("user_id"))
	assert.Equal(t, "eq.150.5", query.Get("balance"))
	assert.Equal(t, "eq.3", query.Get("ads_today"))
	assert.Equal(t, "eq.1", query.Get("spins_today"))
	assert.Contains(t, got.Header.Get("Prefer"), "return=representation")
}

func TestUpdateAccount_NoRowsMeansConflict(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	state := store.AccountState{Balance: decimal.Zero}
	_, err := s.UpdateAccount(context.Background(), 42, state, state)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestServerErrorsAreRetryable(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	})

	_, err := s.GetAccount(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestClientErrorsAreNotRetryable(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid filter"}`, http.StatusBadRequest)
	})

	_, err := s.GetAccount(context.Background(), 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrUnavailable)
}

func TestAppendAction(t *testing.T) {
	var gotBody []map[string]any
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/actions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	})

	referee := int64(42)
	err := s.AppendAction(context.Background(), models.ActionRecord{
		ID:        "3d0f8a9c-0000-4000-8000-000000000001",
		UserID:    7,
		Type:      models.ActionCommission,
		Amount:    decimal.RequireFromString("0.5"),
		RefereeID: &referee,
		CreatedAt: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, gotBody, 1)
	assert.Equal(t, "commission", gotBody[0]["type"])
	assert.Equal(t, float64(42), gotBody[0]["referee_id"])
}

func TestSumWithdrawalsSince(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "eq.42", query.Get("user_id"))
		assert.Equal(t, "gte.2025-03-14T00:00:00Z", query.Get("created_at"))
		assert.Equal(t, "amount", query.Get("select"))
		w.Write([]byte(`[{"amount":400},{"amount":"100.5"}]`))
	})

	since := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	total, err := s.SumWithdrawalsSince(context.Background(), 42, since)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("500.5")))
}

func TestListWithdrawalsByStatus(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "eq.pending", query.Get("status"))
		assert.Equal(t, "created_at.desc", query.Get("order"))
		assert.Equal(t, "50", query.Get("limit"))
		w.Write([]byte(`[{"id":"a","user_id":42,"destination":"dest","amount":400,"reference":"REF","status":"pending","created_at":"2025-03-14T12:00:00Z"}]`))
	})

	rows, err := s.ListWithdrawalsByStatus(context.Background(), models.WithdrawalPending, 50, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.WithdrawalPending, rows[0].Status)
}

func TestSettingsRoundTrip(t *testing.T) {
	var putReq *http.Request
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			putReq = r
			w.WriteHeader(http.StatusCreated)
			return
		}
		assert.Equal(t, "eq.wheel_sectors", r.URL.Query().Get("key"))
		w.Write([]byte(`[{"value":"5,10,25"}]`))
	})

	require.NoError(t, s.PutSetting(context.Background(), store.SettingWheelSectors, "5,10,25"))
	assert.Contains(t, putReq.Header.Get("Prefer"), "resolution=merge-duplicates")
	assert.Equal(t, "key", putReq.URL.Query().Get("on_conflict"))

	value, err := s.GetSetting(context.Background(), store.SettingWheelSectors)
	require.NoError(t, err)
	assert.Equal(t, "5,10,25", value)
}

func TestGetSetting_Unset(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := s.GetSetting(context.Background(), store.SettingWheelSectors)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
