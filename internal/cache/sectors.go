package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type SectorLoader func(context.Context) ([]decimal.Decimal, error)

// SectorCache keeps the wheel sector table warm between store reads. Admin
// updates call Invalidate so the next draw sees the new table.
type SectorCache struct {
	mu       sync.RWMutex
	value    []decimal.Decimal
	expires  time.Time
	ttl      time.Duration
	loadFunc SectorLoader
}

func NewSectorCache(ttl time.Duration, loader SectorLoader) *SectorCache {
	return &SectorCache{
		ttl:      ttl,
		loadFunc: loader,
	}
}

func (c *SectorCache) Get(ctx context.Context) ([]decimal.Decimal, error) {
	c.mu.RLock()
	if time.Now().Before(c.expires) && c.value != nil {
		defer c.mu.RUnlock()
		return c.value, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expires) && c.value != nil {
		return c.value, nil
	}
	sectors, err := c.loadFunc(ctx)
	if err != nil {
		return nil, err
	}
	c.value = sectors
	c.expires = time.Now().Add(c.ttl)
	return sectors, nil
}

func (c *SectorCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.expires = time.Time{}
}
