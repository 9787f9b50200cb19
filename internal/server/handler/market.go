package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// MarketData is what the market handler needs: the cached price path and
// candles.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
}

// MarketHandler serves market data endpoints.
type MarketHandler struct {
	market MarketData
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketData, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, logger: logger}
}

// Price returns the latest price of a symbol.
// GET /api/market/{symbol}/price
func (h *MarketHandler) Price(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	price, err := h.market.GetPrice(r.Context(), symbol)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"price":     price,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Candles returns recent candles of a symbol.
// GET /api/market/{symbol}/candles?timeframe=1h&limit=100
func (h *MarketHandler) Candles(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	q := r.URL.Query()

	timeframe := q.Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	candles, err := h.market.GetRecentCandles(r.Context(), symbol, timeframe, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "get candles", err)
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   candles,
	})
}
