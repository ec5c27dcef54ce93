package reward

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoSectors is returned when a draw is attempted against an empty table.
var ErrNoSectors = errors.New("sector table is empty")

// Calculator produces every value-bearing amount in the system: the fixed
// ad-view reward, the wheel prize, and referral commissions. Clients never
// supply or influence any of these.
type Calculator struct {
	adReward decimal.Decimal
	rate     decimal.Decimal

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewCalculator(adReward, commissionRate decimal.Decimal) *Calculator {
	return &Calculator{
		adReward: adReward,
		rate:     commissionRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AdReward is the constant credit for one accepted ad view.
func (c *Calculator) AdReward() decimal.Decimal {
	return c.adReward
}

// Draw picks one sector uniformly at random from the table. Duplicate values
// act as weights. The table is passed in so the store-backed copy can be used
// when one is configured.
func (c *Calculator) Draw(sectors []decimal.Decimal) (decimal.Decimal, error) {
	if len(sectors) == 0 {
		return decimal.Zero, ErrNoSectors
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return sectors[c.rng.Intn(len(sectors))], nil
}

// Commission returns the referral cut of a triggering reward, rate × amount,
// computed exactly.
func (c *Calculator) Commission(amount decimal.Decimal) decimal.Decimal {
	return c.rate.Mul(amount)
}
