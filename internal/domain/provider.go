package domain

import "context"

// MarketDataProvider supplies prices and candles. Unknown symbols return
// ErrUnsupportedSymbol.
type MarketDataProvider interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// SignalProvider produces candidate trade signals. An empty result is a
// normal outcome.
type SignalProvider interface {
	GenerateSignals(ctx context.Context, req SignalRequest) ([]Signal, error)
}

// StrategyAdvisor proposes an adapted strategy configuration.
type StrategyAdvisor interface {
	AdaptStrategy(ctx context.Context, strategy Strategy, snapshot MarketSnapshot) (StrategyConfig, error)
}
