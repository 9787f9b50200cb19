package background

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/stratbot/internal/cache/memory"
	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/scheduler"
	"github.com/alanyoungcy/stratbot/internal/service"
	storemem "github.com/alanyoungcy/stratbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error

	// when gate is set GetPrice signals entered and blocks until gate closes
	gate    chan struct{}
	entered chan struct{}
}

func newStubMarket() *stubMarket {
	return &stubMarket{prices: map[string]float64{"BTC/USDT": 100, "ETH/USDT": 10}}
}

func (m *stubMarket) set(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *stubMarket) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// hold makes GetPrice block until the returned func is called.
func (m *stubMarket) hold() (entered <-chan struct{}, unblock func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 1)
	gate := m.gate
	return m.entered, func() { close(gate) }
}

func (m *stubMarket) GetPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("stub: %s: %w", symbol, domain.ErrUnsupportedSymbol)
	}
	return p, nil
}

func (m *stubMarket) GetRecentCandles(ctx context.Context, symbol, _ string, limit int) ([]domain.Candle, error) {
	p, err := m.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Candle, 0, limit)
	start := time.Now().Add(-time.Duration(limit) * time.Hour)
	for i := 0; i < limit; i++ {
		out = append(out, domain.Candle{
			Symbol: symbol, OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open: p, High: p, Low: p, Close: p, Volume: 5,
		})
	}
	return out, nil
}

type stubSignals struct {
	mu      sync.Mutex
	signals []domain.Signal
	calls   int
}

func (s *stubSignals) GenerateSignals(context.Context, domain.SignalRequest) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return append([]domain.Signal(nil), s.signals...), nil
}

func (s *stubSignals) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// gatedTradeStore blocks Create until release is closed.
type gatedTradeStore struct {
	*storemem.TradeStore
	entered chan struct{}
	release chan struct{}
}

func newGatedTradeStore(inner *storemem.TradeStore) *gatedTradeStore {
	return &gatedTradeStore{
		TradeStore: inner,
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func (s *gatedTradeStore) Create(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.TradeStore.Create(ctx, t)
}

type harness struct {
	market    *stubMarket
	signals   *stubSignals
	store     *storemem.TradeStore
	snapshots *storemem.MonitoringStore
	ledger    *service.BudgetLedger
	trades    *service.TradeService
	marketSvc *service.MarketService
	monitor   *Monitor
	processor *TradeProcessor
	sched     *scheduler.Scheduler
	coord     *Coordinator
	bus       *cachemem.SignalBus
}

func newHarness(t *testing.T, cfg CoordinatorConfig) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, nil)
}

// newHarnessWithStore lets wrap replace the trade store seen by the trade
// service. h.store stays the underlying memory store.
func newHarnessWithStore(t *testing.T, cfg CoordinatorConfig, wrap func(*storemem.TradeStore) domain.TradeStore) *harness {
	t.Helper()
	log := testLogger()
	h := &harness{
		market:    newStubMarket(),
		signals:   &stubSignals{},
		store:     storemem.NewTradeStore(),
		snapshots: storemem.NewMonitoringStore(),
		ledger:    service.NewBudgetLedger(log),
		bus:       cachemem.NewSignalBus(0),
	}
	var trades domain.TradeStore = h.store
	if wrap != nil {
		trades = wrap(h.store)
	}
	h.trades = service.NewTradeService(trades, h.ledger, h.market, h.bus, storemem.NewAuditStore(), nil, nil, log)
	h.marketSvc = service.NewMarketService(h.market, log)
	h.monitor = NewMonitor(h.marketSvc, h.store, h.snapshots, h.bus, nil, nil,
		MonitorConfig{CheckInterval: time.Minute, RecoveryAttempts: 3, Timeframe: "1h", CandleLimit: 10}, log)
	h.processor = NewTradeProcessor(h.trades, h.marketSvc, h.signals,
		TradeProcessorConfig{MinTradeBudget: 10, Timeframe: "1h", CandleLimit: 10}, log)
	h.sched = scheduler.New(log)
	h.coord = NewCoordinator(h.sched, h.monitor, h.processor, nil, cfg, log)
	return h
}

func defaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TradingEnabled:          true,
		HealthCheckInterval:     time.Hour,
		TradeGenerationInterval: time.Hour,
		TradeMonitorInterval:    time.Hour,
		MarketFitInterval:       time.Hour,
		MaxStrategies:           50,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.coord.Start(context.Background()))
	t.Cleanup(h.coord.Stop)
}

func activeStrategy(id string, budget float64) domain.Strategy {
	return domain.Strategy{
		ID:         id,
		Name:       "strategy " + id,
		Status:     domain.StrategyStatusActive,
		MarketType: domain.MarketTypeSpot,
		Symbols:    []string{"BTC/USDT"},
		Budget:     budget,
	}
}

func fptr(v float64) *float64 { return &v }
