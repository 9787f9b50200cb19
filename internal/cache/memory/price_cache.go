package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

type pricePoint struct {
	price float64
	ts    time.Time
	at    time.Time
}

// PriceCache implements domain.PriceCache with a TTL per entry.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
	ttl    time.Duration
	now    func() time.Time
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint), ttl: ttl, now: time.Now}
}

func (c *PriceCache) fresh(p pricePoint) bool {
	return c.ttl <= 0 || c.now().Sub(p.at) < c.ttl
}

// SetPrice stores the latest price for symbol.
func (c *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[symbol] = pricePoint{price: price, ts: ts, at: c.now()}
	c.mu.Unlock()
	return nil
}

// GetPrice returns the cached price or domain.ErrNotFound when missing or expired.
func (c *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	p, ok := c.prices[symbol]
	c.mu.RUnlock()
	if !ok || !c.fresh(p) {
		return 0, time.Time{}, fmt.Errorf("memory: price %s: %w", symbol, domain.ErrNotFound)
	}
	return p.price, p.ts, nil
}

// GetPrices returns the fresh cached prices among symbols.
func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok && c.fresh(p) {
			out[s] = p.price
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
