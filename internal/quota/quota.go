package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrExceeded is returned when an action would push a daily counter past its
// ceiling.
var ErrExceeded = errors.New("daily quota exceeded")

// Counters is the per-day usage pair stored on an account.
type Counters struct {
	Ads   int
	Spins int
}

// Gate holds the configured daily ceilings. The two ceilings are independent.
type Gate struct {
	AdMax   int
	SpinMax int
}

// SameUTCDay reports whether both instants fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Effective returns the counters as seen from now: values recorded on an
// earlier UTC day read as zero. The stored magnitude is irrelevant once the
// day has rolled over.
func Effective(c Counters, lastUpdate, now time.Time) Counters {
	if SameUTCDay(lastUpdate, now) {
		return c
	}
	return Counters{}
}

// AdmitAd admits one more ad view. It returns the full advanced counter pair
// to persist, with any day rollover already applied to both counters.
func (g Gate) AdmitAd(c Counters, lastUpdate, now time.Time) (Counters, error) {
	eff := Effective(c, lastUpdate, now)
	if eff.Ads >= g.AdMax {
		return Counters{}, fmt.Errorf("%w: ad limit is %d per day", ErrExceeded, g.AdMax)
	}
	eff.Ads++
	return eff, nil
}

// AdmitSpin admits one more wheel spin.
func (g Gate) AdmitSpin(c Counters, lastUpdate, now time.Time) (Counters, error) {
	eff := Effective(c, lastUpdate, now)
	if eff.Spins >= g.SpinMax {
		return Counters{}, fmt.Errorf("%w: spin limit is %d per day", ErrExceeded, g.SpinMax)
	}
	eff.Spins++
	return eff, nil
}
