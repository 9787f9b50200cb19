package domain

import (
	"context"
	"time"
)

// Bus channels.
const (
	ChannelTrades          = "trades"
	ChannelPrices          = "prices"
	ChannelStrategies      = "strategies"
	ChannelStatus          = "ch:status"
	ChannelStrategyControl = "strategy_control"
	StreamTradeEvents      = "stream:trades"
)

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StrategyControl is the payload published on ChannelStrategyControl.
type StrategyControl struct {
	Action     string `json:"action"` // "activate" or "deactivate"
	StrategyID string `json:"strategy_id"`
}
