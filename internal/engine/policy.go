package engine

import "spin-rewards/internal/models"

// QuotaKind names which daily ceiling an action consumes.
type QuotaKind int

const (
	QuotaNone QuotaKind = iota
	QuotaAd
	QuotaSpin
)

// Policy declares what an action demands before it runs. Keeping this as one
// table makes the auth and quota requirements of every action reviewable in
// one place.
type Policy struct {
	RequiresAuth bool
	Quota        QuotaKind
}

var policies = map[models.ActionType]Policy{
	models.ActionRegister:    {},
	models.ActionGetUserData: {},
	models.ActionWatchAd:     {RequiresAuth: true, Quota: QuotaAd},
	models.ActionSpin:        {RequiresAuth: true, Quota: QuotaSpin},
	models.ActionSpinResult:  {RequiresAuth: true},
	models.ActionCommission:  {},
	models.ActionWithdraw:    {RequiresAuth: true},
}

// PolicyFor returns the policy for an action type; ok is false for unknown
// types.
func PolicyFor(action models.ActionType) (Policy, bool) {
	p, ok := policies[action]
	return p, ok
}
