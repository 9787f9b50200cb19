// Package binance is a read-only client for the Binance public REST API.
// It supplies prices and candles; no orders are placed.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// Config configures the client.
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client implements domain.MarketDataProvider against Binance spot.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a Client. BaseURL defaults to https://api.binance.com and
// requests are paced at RequestsPerSecond (default 10).
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// NormalizeSymbol converts "btc/usdt" to "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

var intervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "4h": "4h", "1d": "1d", "1w": "1w",
}

// Interval maps a timeframe to a kline interval. Unknown timeframes use 1h.
func Interval(timeframe string) string {
	if iv, ok := intervals[timeframe]; ok {
		return iv
	}
	return "1h"
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// GetPrice returns the last traded price of symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var out tickerPrice
	if err := c.get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": NormalizeSymbol(symbol)}, &out); err != nil {
		return 0, fmt.Errorf("binance: get price %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: get price %s: parse %q: %w", symbol, out.Price, err)
	}
	return price, nil
}

// GetRecentCandles returns up to limit klines, oldest first.
func (c *Client) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var rows [][]any
	params := map[string]string{
		"symbol":   NormalizeSymbol(symbol),
		"interval": Interval(timeframe),
		"limit":    strconv.Itoa(limit),
	}
	if err := c.get(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, fmt.Errorf("binance: get candles %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openMs, _ := row[0].(float64)
		candles = append(candles, domain.Candle{
			Symbol:   symbol,
			OpenTime: time.UnixMilli(int64(openMs)).UTC(),
			Open:     numeric(row[1]),
			High:     numeric(row[2]),
			Low:      numeric(row[3]),
			Close:    numeric(row[4]),
			Volume:   numeric(row[5]),
		})
	}
	return candles, nil
}

// numeric reads a kline field, which Binance encodes as a decimal string.
func numeric(v any) float64 {
	switch n := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case float64:
		return n
	}
	return 0
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() == http.StatusTeapot:
		return fmt.Errorf("status %d: %w", resp.StatusCode(), domain.ErrRateLimited)
	case resp.StatusCode() == http.StatusBadRequest:
		var apiErr apiError
		_ = json.Unmarshal(resp.Body(), &apiErr)
		if apiErr.Code == -1121 || strings.Contains(strings.ToLower(apiErr.Msg), "invalid symbol") {
			return fmt.Errorf("%s: %w", params["symbol"], domain.ErrUnsupportedSymbol)
		}
		return fmt.Errorf("status 400: %s: %w", apiErr.Msg, domain.ErrUpstream)
	default:
		return fmt.Errorf("status %d: %s: %w", resp.StatusCode(), resp.String(), domain.ErrUpstream)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
