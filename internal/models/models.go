package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ActionType string

const (
	ActionRegister    ActionType = "register"
	ActionGetUserData ActionType = "getUserData"
	ActionWatchAd     ActionType = "watchAd"
	ActionSpin        ActionType = "spin"
	ActionSpinResult  ActionType = "spinResult"
	ActionCommission  ActionType = "commission"
	ActionWithdraw    ActionType = "withdraw"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type Account struct {
	UserID     int64           `json:"userId"`
	Balance    decimal.Decimal `json:"balance"`
	AdsToday   int             `json:"adsToday"`
	SpinsToday int             `json:"spinsToday"`
	ReferredBy *int64          `json:"referredBy,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ActionRecord is an append-only audit fact; rows are never mutated or
// deleted once written.
type ActionRecord struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"userId"`
	Type      ActionType      `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	RefereeID *int64          `json:"refereeId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Withdrawal struct {
	ID          string           `json:"id"`
	UserID      int64            `json:"userId"`
	Destination string           `json:"destination"`
	Amount      decimal.Decimal  `json:"amount"`
	Reference   string           `json:"reference"`
	Status      WithdrawalStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type UserSnapshot struct {
	Account
	ReferralCount int          `json:"referralCount"`
	Withdrawals   []Withdrawal `json:"withdrawals"`
}

// ParseSectorList parses a comma-separated wheel sector table. At least one
// sector is required and values must be non-negative.
func ParseSectorList(raw string) ([]decimal.Decimal, error) {
	var sectors []decimal.Decimal
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("invalid sector value %q", part)
		}
		if v.Sign() < 0 {
			return nil, fmt.Errorf("negative sector value %q", part)
		}
		sectors = append(sectors, v)
	}
	if len(sectors) == 0 {
		return nil, errors.New("sector table needs at least one value")
	}
	return sectors, nil
}

// FormatSectorList renders a sector table back to its comma-separated form.
func FormatSectorList(sectors []decimal.Decimal) string {
	parts := make([]string, 0, len(sectors))
	for _, s := range sectors {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ",")
}
