package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// trendThreshold is the relative move over the candle window that counts as
// a trend.
const trendThreshold = 0.01

// MarketService builds per-symbol market snapshots from candles.
type MarketService struct {
	market domain.MarketDataProvider
	logger *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(market domain.MarketDataProvider, logger *slog.Logger) *MarketService {
	return &MarketService{
		market: market,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// Snapshot collects a snapshot for each symbol. Symbols that fail are logged
// and left out; the call fails only when no symbol could be collected.
func (s *MarketService) Snapshot(ctx context.Context, symbols []string, timeframe string, limit int) (domain.MarketSnapshot, error) {
	snap := make(domain.MarketSnapshot, len(symbols))
	var errs []error
	for _, sym := range symbols {
		ss, err := s.SymbolSnapshot(ctx, sym, timeframe, limit)
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: symbol snapshot failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		snap[sym] = ss
	}
	if len(snap) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("market_service: snapshot: %w", errors.Join(errs...))
	}
	return snap, nil
}

// SymbolSnapshot summarises the recent candles of one symbol.
func (s *MarketService) SymbolSnapshot(ctx context.Context, symbol, timeframe string, limit int) (domain.SymbolSnapshot, error) {
	candles, err := s.market.GetRecentCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return domain.SymbolSnapshot{}, fmt.Errorf("market_service: candles %s: %w", symbol, err)
	}

	ss := SummariseCandles(symbol, candles)
	if price, err := s.market.GetPrice(ctx, symbol); err == nil && price > 0 {
		ss.Price = price
	}
	if ss.Price <= 0 {
		return domain.SymbolSnapshot{}, fmt.Errorf("market_service: no price for %s: %w", symbol, domain.ErrUnsupportedSymbol)
	}
	return ss, nil
}

// Candles returns recent candles for symbol.
func (s *MarketService) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	return s.market.GetRecentCandles(ctx, symbol, timeframe, limit)
}

// Price returns the latest price for symbol.
func (s *MarketService) Price(ctx context.Context, symbol string) (float64, error) {
	return s.market.GetPrice(ctx, symbol)
}

// SummariseCandles derives price, average volume, volatility (standard
// deviation of close-to-close returns) and trend from candles.
func SummariseCandles(symbol string, candles []domain.Candle) domain.SymbolSnapshot {
	ss := domain.SymbolSnapshot{
		Symbol:    symbol,
		Trend:     domain.TrendNeutral,
		Candles:   candles,
		UpdatedAt: time.Now().UTC(),
	}
	if len(candles) == 0 {
		return ss
	}

	var volume float64
	for _, c := range candles {
		volume += c.Volume
	}
	ss.Volume = volume / float64(len(candles))
	ss.Price = candles[len(candles)-1].Close
	ss.Volatility = Volatility(candles)

	first := candles[0].Close
	if first > 0 {
		change := (ss.Price - first) / first
		switch {
		case change > trendThreshold:
			ss.Trend = domain.TrendUp
		case change < -trendThreshold:
			ss.Trend = domain.TrendDown
		}
	}
	return ss
}

// Volatility is the population standard deviation of close-to-close returns.
func Volatility(candles []domain.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		returns = append(returns, (candles[i].Close-prev)/prev)
	}
	_, std := MeanStd(returns)
	return std
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
