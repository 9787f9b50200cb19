package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/stratbot/internal/cache/memory"
	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/server/handler"
	"github.com/alanyoungcy/stratbot/internal/service"
	storemem "github.com/alanyoungcy/stratbot/internal/store/memory"
)

type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (m *fakeMarket) GetPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("fake: %s: %w", symbol, domain.ErrUnsupportedSymbol)
	}
	return p, nil
}

func (m *fakeMarket) GetRecentCandles(_ context.Context, symbol, _ string, limit int) ([]domain.Candle, error) {
	p, err := m.GetPrice(context.Background(), symbol)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candle, limit)
	for i := range out {
		out[i] = domain.Candle{Symbol: symbol, Open: p, High: p, Low: p, Close: p, Volume: 1}
	}
	return out, nil
}

type fixture struct {
	mux    http.Handler
	ledger *service.BudgetLedger
}

func newFixture(t *testing.T, archives handler.ArchiveBrowser) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	market := &fakeMarket{prices: map[string]float64{"BTC/USDT": 100}}
	bus := cachemem.NewSignalBus(0)
	audit := storemem.NewAuditStore()
	ledger := service.NewBudgetLedger(logger)

	strategies := service.NewStrategyService(storemem.NewStrategyStore(), bus, audit, nil,
		service.NewMarketService(market, logger), "1h", 10, logger)
	trades := service.NewTradeService(storemem.NewTradeStore(), ledger, market, bus, audit,
		cachemem.NewLockManager(), nil, logger)

	h := Handlers{
		Health:     handler.NewHealthHandler(map[string]handler.Checker{"memory": func(context.Context) error { return nil }}, logger),
		Status:     handler.NewStatusHandler("full", "test", time.Now(), nil),
		Strategies: handler.NewStrategyHandler(strategies, ledger, logger),
		Trades:     handler.NewTradeHandler(trades, logger),
		Monitoring: handler.NewMonitoringHandler(nil, storemem.NewMonitoringStore(), logger),
		Market:     handler.NewMarketHandler(market, logger),
		Archives:   handler.NewArchiveHandler(archives, logger),
		Events:     handler.NewEventsHandler(bus, logger),
	}
	return &fixture{mux: Routes(h, nil), ledger: ledger}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, false, body["runtime"])
}

func TestHealth_Degraded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewHealthHandler(map[string]handler.Checker{
		"postgres": func(context.Context) error { return errors.New("refused") },
		"redis":    func(context.Context) error { return nil },
	}, logger)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"postgres": "down", "redis": "up"}, body["dependencies"])
}

func TestStrategyCRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec, created := f.do(t, http.MethodPost, "/api/strategies", map[string]any{
		"name":    "momentum",
		"symbols": []string{"btc/usdt"},
		"budget":  1000,
		"config":  map[string]any{"indicatorType": "macd"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := created["id"].(string)
	assert.Equal(t, "inactive", created["status"])
	assert.Equal(t, []any{"BTC/USDT"}, created["symbols"])

	rec, got := f.do(t, http.MethodGet, "/api/strategies/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "momentum", got["name"])

	rec, updated := f.do(t, http.MethodPut, "/api/strategies/"+id, map[string]any{
		"name":    "momentum v2",
		"symbols": []string{"BTC/USDT"},
		"budget":  2000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "momentum v2", updated["name"])
	assert.EqualValues(t, 2000, updated["budget"])

	rec, list := f.do(t, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list["strategies"], 1)

	rec, _ = f.do(t, http.MethodDelete, "/api/strategies/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/api/strategies/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStrategyCreate_Validation(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/api/strategies", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "budget")

	req := httptest.NewRequest(http.MethodPost, "/api/strategies", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTradeLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ledger.Initialize("s1", 1000, 0)
	require.NoError(t, err)

	rec, created := f.do(t, http.MethodPost, "/api/trades", map[string]any{
		"strategy_id": "s1",
		"symbol":      "btc/usdt",
		"side":        "buy",
		"amount":      2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := created["id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.EqualValues(t, 100, created["entry_price"])

	rec, budget := f.do(t, http.MethodGet, "/api/strategies/s1/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 800, budget["available"])

	rec, opened := f.do(t, http.MethodPost, "/api/trades/"+id+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "open", opened["status"])

	rec, _ = f.do(t, http.MethodPost, "/api/trades/"+id+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, closed := f.do(t, http.MethodPost, "/api/trades/"+id+"/close", map[string]any{"price": 110})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "closed", closed["status"])
	assert.EqualValues(t, 20, closed["profit"])

	rec, list := f.do(t, http.MethodGet, "/api/trades?strategy_id=s1&status=closed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list["trades"], 1)

	_, budget = f.do(t, http.MethodGet, "/api/strategies/s1/budget", nil)
	assert.EqualValues(t, 1020, budget["available"])

	rec, events := f.do(t, http.MethodGet, "/api/events/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	replayed := events["events"].([]any)
	require.Len(t, replayed, 3)
	first := replayed[0].(map[string]any)["event"].(map[string]any)
	assert.Equal(t, "trade_created", first["event"])

	rec, events = f.do(t, http.MethodGet, "/api/events/trades?after="+events["last_id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events["events"])

	rec, _ = f.do(t, http.MethodGet, "/api/events/trades?count=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradeCreate_Errors(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ledger.Initialize("s1", 100, 0)
	require.NoError(t, err)

	rec, _ := f.do(t, http.MethodPost, "/api/trades", map[string]any{
		"strategy_id": "s1", "symbol": "BTC/USDT", "side": "buy", "amount": 5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/trades", map[string]any{
		"strategy_id": "s1", "symbol": "BTC/USDT", "side": "hold", "amount": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/trades/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/api/market/BTC-USDT/price", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC/USDT", body["symbol"])
	assert.EqualValues(t, 100, body["price"])

	rec, body = f.do(t, http.MethodGet, "/api/market/BTC-USDT/candles?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["candles"], 3)

	rec, _ = f.do(t, http.MethodGet, "/api/market/DOGE-USDT/price", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/market/BTC-USDT/candles?limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoringWithoutRuntime(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/api/monitoring/status", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/api/monitoring/history/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["snapshots"])
}

type staticArchives map[string]string

func (s staticArchives) ListArchives(context.Context) ([]domain.ArchiveObject, error) {
	out := make([]domain.ArchiveObject, 0, len(s))
	for k, v := range s {
		out = append(out, domain.ArchiveObject{Key: k, Size: int64(len(v))})
	}
	return out, nil
}

func (s staticArchives) OpenArchive(_ context.Context, key string) (io.ReadCloser, error) {
	v, ok := s[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func TestArchives(t *testing.T) {
	rec, body := newFixture(t, nil).do(t, http.MethodGet, "/api/archives", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])

	f := newFixture(t, staticArchives{"archive/trades/2025-01-01.jsonl": "{\"id\":\"t1\"}\n"})
	rec, body = f.do(t, http.MethodGet, "/api/archives", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["enabled"])
	assert.Len(t, body["archives"], 1)

	req := httptest.NewRequest(http.MethodGet, "/api/archives/trades/2025-01-01.jsonl", nil)
	raw := httptest.NewRecorder()
	f.mux.ServeHTTP(raw, req)
	require.Equal(t, http.StatusOK, raw.Code)
	assert.Equal(t, "application/x-ndjson", raw.Header().Get("Content-Type"))
	assert.Equal(t, "{\"id\":\"t1\"}\n", raw.Body.String())

	rec, _ = f.do(t, http.MethodGet, "/api/archives/trades/missing.jsonl", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
