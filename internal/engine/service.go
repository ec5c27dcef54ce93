// Package engine orchestrates the reward economy: it runs each action
// through signature verification, quota admission, reward calculation, and
// the ledger, per the action's declared policy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spin-rewards/internal/auth"
	"spin-rewards/internal/cache"
	"spin-rewards/internal/config"
	"spin-rewards/internal/ledger"
	"spin-rewards/internal/models"
	"spin-rewards/internal/quota"
	"spin-rewards/internal/reward"
	"spin-rewards/internal/store"
	"spin-rewards/internal/util/refcode"
)

type Service struct {
	cfg      *config.Config
	store    store.Store
	verifier *auth.Verifier
	ledger   *ledger.Applier
	calc     *reward.Calculator
	gate     quota.Gate
	sectors  *cache.SectorCache
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg *config.Config, st store.Store, verifier *auth.Verifier, logger *slog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		verifier: verifier,
		ledger:   ledger.New(st, logger, cfg.LedgerRetries),
		calc:     reward.NewCalculator(cfg.AdReward, cfg.CommissionRate),
		gate:     quota.Gate{AdMax: cfg.DailyAdMax, SpinMax: cfg.DailySpinMax},
		logger:   logger,
		now:      time.Now,
	}
	s.sectors = cache.NewSectorCache(cfg.SectorCacheTTL, s.loadSectors)
	return s
}

// Register creates the account on first contact and reports whether a row
// was created. Re-registration is a no-op; self-referrals are dropped.
func (s *Service) Register(ctx context.Context, userID int64, referrerID *int64) (bool, error) {
	if userID <= 0 {
		return false, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if referrerID != nil && (*referrerID == userID || *referrerID <= 0) {
		referrerID = nil
	}
	created, err := s.store.EnsureAccount(ctx, userID, referrerID)
	if err != nil {
		return false, err
	}
	if created {
		if referrerID != nil {
			s.logger.Info("account registered", "user_id", userID, "referred_by", *referrerID)
		} else {
			s.logger.Info("account registered", "user_id", userID)
		}
	}
	return created, nil
}

// GetUserData returns the account with day-corrected counters, the referral
// count, and the withdrawal history.
func (s *Service) GetUserData(ctx context.Context, userID int64) (models.UserSnapshot, error) {
	if userID <= 0 {
		return models.UserSnapshot{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return models.UserSnapshot{}, err
	}
	eff := quota.Effective(countersOf(account), account.UpdatedAt, s.now())
	account.AdsToday, account.SpinsToday = eff.Ads, eff.Spins

	referrals, err := s.store.CountReferrals(ctx, userID)
	if err != nil {
		return models.UserSnapshot{}, err
	}
	withdrawals, err := s.store.ListWithdrawals(ctx, userID)
	if err != nil {
		return models.UserSnapshot{}, err
	}
	if withdrawals == nil {
		withdrawals = []models.Withdrawal{}
	}
	return models.UserSnapshot{
		Account:       account,
		ReferralCount: referrals,
		Withdrawals:   withdrawals,
	}, nil
}

// WatchAd credits the fixed ad reward, advances the ad counter, and fires
// the referral cascade. The reward amount is never taken from the client.
func (s *Service) WatchAd(ctx context.Context, userID int64, initData string) (models.Account, error) {
	if err := s.authorize(models.ActionWatchAd, userID, initData); err != nil {
		return models.Account{}, err
	}
	amount := s.calc.AdReward()
	account, err := s.ledger.Apply(ctx, userID, func(current models.Account) (store.AccountState, error) {
		counters, err := s.admit(models.ActionWatchAd, current)
		if err != nil {
			return store.AccountState{}, err
		}
		return store.AccountState{
			Balance:    current.Balance.Add(amount),
			AdsToday:   counters.Ads,
			SpinsToday: counters.Spins,
		}, nil
	}, &ledger.Record{Type: models.ActionWatchAd, Amount: amount})
	if err != nil {
		return models.Account{}, err
	}
	s.logger.Info("ad reward credited", "user_id", userID, "amount", amount, "balance", account.Balance)
	s.cascade(ctx, account, amount)
	return account, nil
}

// Spin consumes one unit of the daily spin quota. The prize itself arrives
// with the follow-up spinResult action.
func (s *Service) Spin(ctx context.Context, userID int64, initData string) (models.Account, error) {
	if err := s.authorize(models.ActionSpin, userID, initData); err != nil {
		return models.Account{}, err
	}
	account, err := s.ledger.Apply(ctx, userID, func(current models.Account) (store.AccountState, error) {
		counters, err := s.admit(models.ActionSpin, current)
		if err != nil {
			return store.AccountState{}, err
		}
		return store.AccountState{
			Balance:    current.Balance,
			AdsToday:   counters.Ads,
			SpinsToday: counters.Spins,
		}, nil
	}, &ledger.Record{Type: models.ActionSpin})
	if err != nil {
		return models.Account{}, err
	}
	s.logger.Info("spin admitted", "user_id", userID, "spins_today", account.SpinsToday)
	return account, nil
}

// SpinResult draws the prize server-side from the current sector table and
// credits it.
func (s *Service) SpinResult(ctx context.Context, userID int64, initData string) (models.Account, decimal.Decimal, error) {
	if err := s.authorize(models.ActionSpinResult, userID, initData); err != nil {
		return models.Account{}, decimal.Zero, err
	}
	sectors, err := s.sectors.Get(ctx)
	if err != nil {
		return models.Account{}, decimal.Zero, fmt.Errorf("load sector table: %w", err)
	}
	prize, err := s.calc.Draw(sectors)
	if err != nil {
		return models.Account{}, decimal.Zero, err
	}
	account, err := s.ledger.Apply(ctx, userID, func(current models.Account) (store.AccountState, error) {
		counters, err := s.admit(models.ActionSpinResult, current)
		if err != nil {
			return store.AccountState{}, err
		}
		return store.AccountState{
			Balance:    current.Balance.Add(prize),
			AdsToday:   counters.Ads,
			SpinsToday: counters.Spins,
		}, nil
	}, &ledger.Record{Type: models.ActionSpinResult, Amount: prize})
	if err != nil {
		return models.Account{}, decimal.Zero, err
	}
	s.logger.Info("spin prize credited", "user_id", userID, "prize", prize, "balance", account.Balance)
	return account, prize, nil
}

// Commission credits a referrer with the standard commission on one ad
// reward. The caller is trusted infrastructure; there is no signature to
// check.
func (s *Service) Commission(ctx context.Context, referrerID, refereeID int64) (models.Account, error) {
	if referrerID <= 0 || refereeID <= 0 {
		return models.Account{}, fmt.Errorf("%w: referrer and referee ids are required", ErrValidation)
	}
	amount := s.calc.Commission(s.calc.AdReward())
	account, err := s.creditCommission(ctx, referrerID, refereeID, amount)
	if err != nil {
		return models.Account{}, err
	}
	s.logger.Info("commission credited", "referrer_id", referrerID, "referee_id", refereeID, "amount", amount)
	return account, nil
}

// Withdraw debits the balance and opens a pending payout. Status changes
// after that are the back office's business.
func (s *Service) Withdraw(ctx context.Context, userID int64, destination string, amount decimal.Decimal, initData string) (models.Account, models.Withdrawal, error) {
	if err := s.authorize(models.ActionWithdraw, userID, initData); err != nil {
		return models.Account{}, models.Withdrawal{}, err
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return models.Account{}, models.Withdrawal{}, fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if amount.Sign() <= 0 {
		return models.Account{}, models.Withdrawal{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount.LessThan(s.cfg.MinWithdraw) {
		return models.Account{}, models.Withdrawal{}, fmt.Errorf("%w: minimum withdrawal is %s", ErrValidation, s.cfg.MinWithdraw)
	}
	if s.cfg.WithdrawDailyMax.Sign() > 0 {
		taken, err := s.store.SumWithdrawalsSince(ctx, userID, startOfUTCDay(s.now()))
		if err != nil {
			return models.Account{}, models.Withdrawal{}, err
		}
		if taken.Add(amount).GreaterThan(s.cfg.WithdrawDailyMax) {
			return models.Account{}, models.Withdrawal{}, fmt.Errorf("%w: daily withdrawal cap is %s", quota.ErrExceeded, s.cfg.WithdrawDailyMax)
		}
	}

	reference, err := refcode.Generate()
	if err != nil {
		return models.Account{}, models.Withdrawal{}, fmt.Errorf("generate payout reference: %w", err)
	}

	account, err := s.ledger.Apply(ctx, userID, func(current models.Account) (store.AccountState, error) {
		if amount.GreaterThan(current.Balance) {
			return store.AccountState{}, fmt.Errorf("%w: balance is %s", ErrInsufficientBalance, current.Balance)
		}
		counters, err := s.admit(models.ActionWithdraw, current)
		if err != nil {
			return store.AccountState{}, err
		}
		return store.AccountState{
			Balance:    current.Balance.Sub(amount),
			AdsToday:   counters.Ads,
			SpinsToday: counters.Spins,
		}, nil
	}, &ledger.Record{Type: models.ActionWithdraw, Amount: amount})
	if err != nil {
		return models.Account{}, models.Withdrawal{}, err
	}

	w := models.Withdrawal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Destination: destination,
		Amount:      amount,
		Reference:   reference,
		Status:      models.WithdrawalPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		// The debit is committed; losing the payout row is an operational
		// incident, not something to silently swallow.
		s.logger.Error("withdrawal row creation failed after debit",
			"user_id", userID, "amount", amount, "reference", reference, "error", err)
		return models.Account{}, models.Withdrawal{}, err
	}
	s.logger.Info("withdrawal requested",
		"user_id", userID, "amount", amount, "reference", reference, "balance", account.Balance)
	return account, w, nil
}

// Sectors returns the wheel table currently in effect.
func (s *Service) Sectors(ctx context.Context) ([]decimal.Decimal, error) {
	return s.sectors.Get(ctx)
}

// UpdateSectors stores a new wheel table and drops the cached copy.
func (s *Service) UpdateSectors(ctx context.Context, sectors []decimal.Decimal) error {
	if len(sectors) == 0 {
		return fmt.Errorf("%w: sector table needs at least one value", ErrValidation)
	}
	if err := s.store.PutSetting(ctx, store.SettingWheelSectors, models.FormatSectorList(sectors)); err != nil {
		return err
	}
	s.sectors.Invalidate()
	s.logger.Info("wheel sector table updated", "sectors", len(sectors))
	return nil
}

// authorize checks the action's policy. All verification failures surface as
// auth.ErrUnauthenticated; the concrete reason only reaches the log.
func (s *Service) authorize(action models.ActionType, userID int64, initData string) error {
	pol, ok := PolicyFor(action)
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !pol.RequiresAuth {
		return nil
	}
	if err := s.verifier.Verify(initData, userID); err != nil {
		s.logger.Warn("authentication rejected", "action", action, "user_id", userID, "reason", err)
		return err
	}
	return nil
}

// admit applies the day rollover and, where the policy demands it, the quota
// ceiling. Actions without a quota still get day-corrected counters so a
// write after midnight cannot resurrect yesterday's usage.
func (s *Service) admit(action models.ActionType, current models.Account) (quota.Counters, error) {
	counters := countersOf(current)
	now := s.now()
	pol, _ := PolicyFor(action)
	switch pol.Quota {
	case QuotaAd:
		return s.gate.AdmitAd(counters, current.UpdatedAt, now)
	case QuotaSpin:
		return s.gate.AdmitSpin(counters, current.UpdatedAt, now)
	default:
		return quota.Effective(counters, current.UpdatedAt, now), nil
	}
}

// cascade pays the referrer their cut of an ad reward. A missing referrer is
// not an error for the referee; any failure here leaves the parent action
// committed.
func (s *Service) cascade(ctx context.Context, referee models.Account, rewardAmount decimal.Decimal) {
	if referee.ReferredBy == nil {
		return
	}
	referrerID := *referee.ReferredBy
	commission := s.calc.Commission(rewardAmount)
	if _, err := s.creditCommission(ctx, referrerID, referee.UserID, commission); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("referrer missing, commission skipped",
				"referrer_id", referrerID, "referee_id", referee.UserID)
			return
		}
		s.logger.Warn("commission credit failed",
			"referrer_id", referrerID, "referee_id", referee.UserID, "error", err)
		return
	}
	s.logger.Info("commission credited",
		"referrer_id", referrerID, "referee_id", referee.UserID, "amount", commission)
}

func (s *Service) creditCommission(ctx context.Context, referrerID, refereeID int64, amount decimal.Decimal) (models.Account, error) {
	var rec *ledger.Record
	if s.cfg.CommissionAudit {
		referee := refereeID
		rec = &ledger.Record{Type: models.ActionCommission, Amount: amount, RefereeID: &referee}
	}
	return s.ledger.Apply(ctx, referrerID, func(current models.Account) (store.AccountState, error) {
		counters, err := s.admit(models.ActionCommission, current)
		if err != nil {
			return store.AccountState{}, err
		}
		return store.AccountState{
			Balance:    current.Balance.Add(amount),
			AdsToday:   counters.Ads,
			SpinsToday: counters.Spins,
		}, nil
	}, rec)
}

// loadSectors backs the sector cache: the stored table wins, the configured
// default covers a fresh install.
func (s *Service) loadSectors(ctx context.Context) ([]decimal.Decimal, error) {
	raw, err := s.store.GetSetting(ctx, store.SettingWheelSectors)
	if errors.Is(err, store.ErrNotFound) {
		return s.cfg.WheelSectors, nil
	}
	if err != nil {
		return nil, err
	}
	sectors, err := models.ParseSectorList(raw)
	if err != nil {
		s.logger.Error("stored sector table is malformed, using configured default", "error", err)
		return s.cfg.WheelSectors, nil
	}
	return sectors, nil
}

func countersOf(a models.Account) quota.Counters {
	return quota.Counters{Ads: a.AdsToday, Spins: a.SpinsToday}
}

func startOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
