// Package rest implements the store against a PostgREST-compatible HTTP API
// (Supabase and friends): filtered GETs, upserting POSTs, and conditional
// PATCHes with representation-after-mutation.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"spin-rewards/internal/models"
	"spin-rewards/internal/store"
)

const (
	tableAccounts    = "/accounts"
	tableActions     = "/actions"
	tableWithdrawals = "/withdrawals"
	tableSettings    = "/settings"
)

type Store struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

func New(baseURL, serviceKey string, timeout time.Duration) *Store {
	return &Store{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *Store) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// doRequest runs one API call. Transport failures and 5xx responses come back
// wrapped in store.ErrUnavailable so the ledger can retry them; other error
// statuses are permanent.
func (s *Store) doRequest(ctx context.Context, method, path string, query url.Values, prefer string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", store.ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", store.ErrUnavailable, method, path, resp.StatusCode, snippet(respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet(respBody))
	}
	return respBody, nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func eqInt(v int64) string {
	return fmt.Sprintf("eq.%d", v)
}

type accountRow struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	AdsToday   int             `json:"ads_today"`
	SpinsToday int             `json:"spins_today"`
	ReferredBy *int64          `json:"referred_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (r accountRow) toModel() models.Account {
	return models.Account{
		UserID:     r.UserID,
		Balance:    r.Balance,
		AdsToday:   r.AdsToday,
		SpinsToday: r.SpinsToday,
		ReferredBy: r.ReferredBy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type withdrawalRow struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (r withdrawalRow) toModel() models.Withdrawal {
	return models.Withdrawal{
		ID:          r.ID,
		UserID:      r.UserID,
		Destination: r.Destination,
		Amount:      r.Amount,
		Reference:   r.Reference,
		Status:      models.WithdrawalStatus(r.Status),
		CreatedAt:   r.CreatedAt,
	}
}

type actionRow struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	RefereeID *int64          `json:"referee_id"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) EnsureAccount(ctx context.Context, userID int64, referredBy *int64) (bool, error) {
	now := time.Now().UTC()
	row := accountRow{
		UserID:     userID,
		Balance:    decimal.Zero,
		ReferredBy: referredBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	query := url.Values{"on_conflict": {"user_id"}}
	// ignore-duplicates leaves an existing row untouched, so re-registration
	// can never reset a balance or rewrite the referrer.
	body, err := s.doRequest(ctx, http.MethodPost, tableAccounts, query,
		"return=representation,resolution=ignore-duplicates", []accountRow{row})
	if err != nil {
		return false, fmt.Errorf("ensure account %d: %w", userID, err)
	}
	var created []accountRow
	if err := json.Unmarshal(body, &created); err != nil {
		return false, fmt.Errorf("ensure account %d: decode response: %w", userID, err)
	}
	return len(created) > 0, nil
}

func (s *Store) GetAccount(ctx context.Context, userID int64) (models.Account, error) {
	query := url.Values{
		"user_id": {eqInt(userID)},
		"select":  {"*"},
		"limit":   {"1"},
	}
	body, err := s.doRequest(ctx, http.MethodGet, tableAccounts, query, "", nil)
	if err != nil {
		return models.Account{}, fmt.Errorf("get account %d: %w", userID, err)
	}
	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return models.Account{}, fmt.Errorf("get account %d: decode response: %w", userID, err)
	}
	if len(rows) == 0 {
		return models.Account{}, store.ErrNotFound
	}
	return rows[0].toModel(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, userID int64, match, set store.AccountState) (models.Account, error) {
	query := url.Values{
		"user_id":     {eqInt(userID)},
		"balance":     {"eq." + match.Balance.String()},
		"ads_today":   {eqInt(int64(match.AdsToday))},
		"spins_today": {eqInt(int64(match.SpinsToday))},
	}
	patch := map[string]any{
		"balance":     set.Balance,
		"ads_today":   set.AdsToday,
		"spins_today": set.SpinsToday,
		"updated_at":  time.Now().UTC(),
	}
	body, err := s.doRequest(ctx, http.MethodPatch, tableAccounts, query, "return=representation", patch)
	if err != nil {
		return models.Account{}, fmt.Errorf("update account %d: %w", userID, err)
	}
	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return models.Account{}, fmt.Errorf("update account %d: decode response: %w", userID, err)
	}
	if len(rows) == 0 {
		return models.Account{}, store.ErrConflict
	}
	return rows[0].toModel(), nil
}

func (s *Store) CountReferrals(ctx context.Context, referrerID int64) (int, error) {
	query := url.Values{
		"referred_by": {eqInt(referrerID)},
		"select":      {"user_id"},
	}
	body, err := s.doRequest(ctx, http.MethodGet, tableAccounts, query, "", nil)
	if err != nil {
		return 0, fmt.Errorf("count referrals of %d: %w", referrerID, err)
	}
	var rows []struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("count referrals of %d: decode response: %w", referrerID, err)
	}
	return len(rows), nil
}

func (s *Store) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	query := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}
	body, err := s.doRequest(ctx, http.MethodGet, tableAccounts, query, "", nil)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("list accounts: decode response: %w", err)
	}
	accounts := make([]models.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

func (s *Store) AppendAction(ctx context.Context, rec models.ActionRecord) error {
	row := actionRow{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Type:      string(rec.Type),
		Amount:    rec.Amount,
		RefereeID: rec.RefereeID,
		CreatedAt: rec.CreatedAt,
	}
	if _, err := s.doRequest(ctx, http.MethodPost, tableActions, nil, "return=minimal", []actionRow{row}); err != nil {
		return fmt.Errorf("append %s action for %d: %w", rec.Type, rec.UserID, err)
	}
	return nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, w models.Withdrawal) error {
	row := withdrawalRow{
		ID:          w.ID,
		UserID:      w.UserID,
		Destination: w.Destination,
		Amount:      w.Amount,
		Reference:   w.Reference,
		Status:      string(w.Status),
		CreatedAt:   w.CreatedAt,
	}
	if _, err := s.doRequest(ctx, http.MethodPost, tableWithdrawals, nil, "return=minimal", []withdrawalRow{row}); err != nil {
		return fmt.Errorf("create withdrawal for %d: %w", w.UserID, err)
	}
	return nil
}

func (s *Store) ListWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	query := url.Values{
		"user_id": {eqInt(userID)},
		"select":  {"*"},
		"order":   {"created_at.desc"},
	}
	return s.queryWithdrawals(ctx, query, fmt.Sprintf("list withdrawals of %d", userID))
}

func (s *Store) ListWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.Withdrawal, error) {
	query := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}
	if status != "" {
		query.Set("status", "eq."+string(status))
	}
	return s.queryWithdrawals(ctx, query, "list withdrawals by status")
}

func (s *Store) queryWithdrawals(ctx context.Context, query url.Values, op string) ([]models.Withdrawal, error) {
	body, err := s.doRequest(ctx, http.MethodGet, tableWithdrawals, query, "", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var rows []withdrawalRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	withdrawals := make([]models.Withdrawal, 0, len(rows))
	for _, r := range rows {
		withdrawals = append(withdrawals, r.toModel())
	}
	return withdrawals, nil
}

func (s *Store) SumWithdrawalsSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	query := url.Values{
		"user_id":    {eqInt(userID)},
		"created_at": {"gte." + since.UTC().Format(time.RFC3339)},
		"select":     {"amount"},
	}
	body, err := s.doRequest(ctx, http.MethodGet, tableWithdrawals, query, "", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum withdrawals of %d: %w", userID, err)
	}
	var rows []struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("sum withdrawals of %d: decode response: %w", userID, err)
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	query := url.Values{
		"key":    {"eq." + key},
		"select": {"value"},
		"limit":  {"1"},
	}
	body, err := s.doRequest(ctx, http.MethodGet, tableSettings, query, "", nil)
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	var rows []struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("get setting %s: decode response: %w", key, err)
	}
	if len(rows) == 0 {
		return "", store.ErrNotFound
	}
	return rows[0].Value, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	query := url.Values{"on_conflict": {"key"}}
	row := map[string]string{"key": key, "value": value}
	_, err := s.doRequest(ctx, http.MethodPost, tableSettings, query,
		"return=minimal,resolution=merge-duplicates", []map[string]string{row})
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}
