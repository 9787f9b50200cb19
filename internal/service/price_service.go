package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// PriceService is a read-through price cache in front of the exchange. It
// implements domain.MarketDataProvider so the rest of the core never talks to
// the exchange directly.
type PriceService struct {
	upstream domain.MarketDataProvider
	cache    domain.PriceCache
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewPriceService creates a PriceService.
func NewPriceService(
	upstream domain.MarketDataProvider,
	cache domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		upstream: upstream,
		cache:    cache,
		bus:      bus,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// GetPrice returns the cached price for symbol, fetching and caching it from
// the exchange on a miss.
func (s *PriceService) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if price, _, err := s.cache.GetPrice(ctx, symbol); err == nil && price > 0 {
		return price, nil
	}

	price, err := s.upstream.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("price_service: get price %q: %w", symbol, err)
	}

	now := time.Now().UTC()
	if err := s.cache.SetPrice(ctx, symbol, price, now); err != nil {
		s.logger.WarnContext(ctx, "price_service: cache set failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "price_update",
		"symbol":    symbol,
		"price":     price,
		"timestamp": now.Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
		s.logger.WarnContext(ctx, "price_service: publish price event failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return price, nil
}

// GetPrices returns the cached prices for symbols, fetching the misses.
// Symbols that cannot be priced are omitted.
func (s *PriceService) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := s.cache.GetPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	for _, sym := range symbols {
		if _, ok := prices[sym]; ok {
			continue
		}
		p, err := s.GetPrice(ctx, sym)
		if err != nil {
			s.logger.DebugContext(ctx, "price_service: price unavailable",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices[sym] = p
	}
	return prices, nil
}

// GetRecentCandles passes through to the exchange.
func (s *PriceService) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	candles, err := s.upstream.GetRecentCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("price_service: candles %q %s: %w", symbol, timeframe, err)
	}
	return candles, nil
}

var _ domain.MarketDataProvider = (*PriceService)(nil)
