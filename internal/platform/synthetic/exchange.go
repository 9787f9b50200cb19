// Package synthetic provides demo implementations of the exchange and AI
// collaborators. Prices follow a random walk around a fixed base-price table.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

var basePrices = map[string]float64{
	"BTC/USDT":   50000,
	"ETH/USDT":   3000,
	"BNB/USDT":   500,
	"SOL/USDT":   100,
	"ADA/USDT":   0.5,
	"XRP/USDT":   0.6,
	"DOT/USDT":   20,
	"DOGE/USDT":  0.1,
	"AVAX/USDT":  30,
	"MATIC/USDT": 1.0,
}

const defaultBasePrice = 100.0

// BasePrice returns the demo reference price of symbol.
func BasePrice(symbol string) float64 {
	if p, ok := basePrices[strings.ToUpper(symbol)]; ok {
		return p
	}
	return defaultBasePrice
}

var timeframes = map[string]time.Duration{
	"1m": time.Minute, "5m": 5 * time.Minute, "15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "4h": 4 * time.Hour, "1d": 24 * time.Hour, "1w": 7 * 24 * time.Hour,
}

// source is a mutex-guarded random source shared by the demo providers.
type source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource(seed uint64) *source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *source) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *source) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// between returns a uniform value in [lo, hi).
func (s *source) between(lo, hi float64) float64 {
	return lo + s.float()*(hi-lo)
}

// Exchange implements domain.MarketDataProvider with generated data.
type Exchange struct {
	rnd *source
	now func() time.Time
}

// NewExchange creates an Exchange. A zero seed uses the clock.
func NewExchange(seed uint64) *Exchange {
	return &Exchange{rnd: newSource(seed), now: time.Now}
}

func validSymbol(symbol string) bool {
	base, quote, ok := strings.Cut(strings.TrimSpace(symbol), "/")
	return ok && base != "" && quote != ""
}

// GetPrice returns the base price with up to 1% noise.
func (e *Exchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	if !validSymbol(symbol) {
		return 0, fmt.Errorf("synthetic: %q: %w", symbol, domain.ErrUnsupportedSymbol)
	}
	base := BasePrice(symbol)
	return base + e.rnd.between(-1, 1)*base*0.01, nil
}

// GetRecentCandles returns limit candles ending now, generated by a random
// walk with 5% total variation.
func (e *Exchange) GetRecentCandles(_ context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if !validSymbol(symbol) {
		return nil, fmt.Errorf("synthetic: %q: %w", symbol, domain.ErrUnsupportedSymbol)
	}
	if limit <= 0 {
		return []domain.Candle{}, nil
	}
	step, ok := timeframes[timeframe]
	if !ok {
		step = time.Hour
	}

	base := BasePrice(symbol)
	scale := base * 0.05 / math.Sqrt(float64(limit))
	now := e.now().UTC()
	price := base

	candles := make([]domain.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		price += e.rnd.between(-1, 1) * scale
		if price <= 0 {
			price = base * 0.1
		}
		open := price
		closePrice := math.Max(open+e.rnd.between(-1, 1)*scale, base*0.01)
		high := math.Max(open, closePrice) + e.rnd.float()*scale
		low := math.Max(math.Min(open, closePrice)-e.rnd.float()*scale, 0)

		candles = append(candles, domain.Candle{
			Symbol:   symbol,
			OpenTime: now.Add(-time.Duration(limit-i) * step),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   e.rnd.between(100, 1100),
		})
		price = closePrice
	}
	return candles, nil
}
