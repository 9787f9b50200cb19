package background

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/domain"
	storemem "github.com/alanyoungcy/stratbot/internal/store/memory"
)

func startedProcessor(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, defaultCoordinatorConfig())
	require.NoError(t, h.processor.Start(context.Background()))
	t.Cleanup(h.processor.Stop)
	return h
}

func TestTradeProcessor_GenerateCreatesAndExecutes(t *testing.T) {
	h := startedProcessor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	st.Config.TradeParameters = domain.TradeParameters{StopLoss: 0.02, TakeProfit: 0.05}
	require.NoError(t, h.processor.InitializeStrategy(st))

	conf := 0.8
	h.signals.signals = []domain.Signal{
		{Symbol: "btc/usdt", Side: domain.TradeSideBuy, Amount: 2, Price: 100, Confidence: &conf, Source: "stub"},
	}

	n, err := h.processor.GenerateTradesForStrategy(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trades := h.processor.ActiveTrades("s1")
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, domain.TradeStatusOpen, tr.Status)
	assert.Equal(t, "BTC/USDT", tr.Symbol)
	require.NotNil(t, tr.StopLoss)
	require.NotNil(t, tr.TakeProfit)
	assert.InDelta(t, 98, *tr.StopLoss, 1e-9)
	assert.InDelta(t, 105, *tr.TakeProfit, 1e-9)
	assert.Equal(t, 0.8, tr.Metadata["confidence"])
	assert.Equal(t, true, tr.Metadata["generated"])

	available, err := h.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 800, available, 1e-9)
}

func TestTradeProcessor_GenerateSkipsOverBudgetSignals(t *testing.T) {
	h := startedProcessor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 150)
	require.NoError(t, h.processor.InitializeStrategy(st))

	h.signals.signals = []domain.Signal{
		{Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 2, Price: 100},
		{Symbol: "ETH/USDT", Side: domain.TradeSideSell, Amount: 5, Price: 10},
		{Symbol: "ETH/USDT", Side: "hold", Amount: 1, Price: 10},
	}

	n, err := h.processor.GenerateTradesForStrategy(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trades, err := h.store.List(ctx, domain.TradeFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "ETH/USDT", trades[0].Symbol)

	available, err := h.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 100, available, 1e-9)
}

func TestTradeProcessor_GenerateRespectsBudgetFloor(t *testing.T) {
	h := startedProcessor(t)
	st := activeStrategy("s1", 5)
	require.NoError(t, h.processor.InitializeStrategy(st))
	h.signals.signals = []domain.Signal{{Symbol: "ETH/USDT", Side: domain.TradeSideBuy, Amount: 0.1, Price: 10}}

	n, err := h.processor.GenerateTradesForStrategy(context.Background(), st)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.signals.callCount())
}

func TestTradeProcessor_GenerateInactiveIsNoop(t *testing.T) {
	h := startedProcessor(t)
	st := activeStrategy("s1", 1000)
	require.NoError(t, h.processor.InitializeStrategy(st))
	st.Status = domain.StrategyStatusInactive

	n, err := h.processor.GenerateTradesForStrategy(context.Background(), st)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.signals.callCount())
}

func TestTradeProcessor_GenerateRespectsMaxOpenPositions(t *testing.T) {
	h := startedProcessor(t)
	st := activeStrategy("s1", 1000)
	st.Config.TradeParameters.MaxOpenPositions = 1
	require.NoError(t, h.processor.InitializeStrategy(st))
	h.signals.signals = []domain.Signal{
		{Symbol: "ETH/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 10},
		{Symbol: "ETH/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 10},
	}

	n, err := h.processor.GenerateTradesForStrategy(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, h.processor.ActiveTrades("s1"), 1)
}

func TestTradeProcessor_MonitorClosesOnExitConditions(t *testing.T) {
	h := startedProcessor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	require.NoError(t, h.processor.InitializeStrategy(st))

	h.signals.signals = []domain.Signal{
		{Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 100, StopLoss: fptr(95), TakeProfit: fptr(110)},
		{Symbol: "ETH/USDT", Side: domain.TradeSideSell, Amount: 10, Price: 10, StopLoss: fptr(11), TakeProfit: fptr(8)},
	}
	n, err := h.processor.GenerateTradesForStrategy(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	closed, err := h.processor.MonitorOpenTrades(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)

	h.market.set("BTC/USDT", 111)
	h.market.set("ETH/USDT", 11.5)
	closed, err = h.processor.MonitorOpenTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.Zero(t, h.processor.ActiveCount())

	trades, err := h.store.List(ctx, domain.TradeFilter{StrategyID: "s1"})
	require.NoError(t, err)
	reasons := map[string]any{}
	var profit float64
	for _, tr := range trades {
		assert.Equal(t, domain.TradeStatusClosed, tr.Status)
		reasons[tr.Symbol] = tr.Metadata["close_reason"]
		profit += *tr.Profit
	}
	assert.Equal(t, string(domain.CloseReasonTakeProfit), reasons["BTC/USDT"])
	assert.Equal(t, string(domain.CloseReasonStopLoss), reasons["ETH/USDT"])
	assert.InDelta(t, 11-15, profit, 1e-9)

	available, err := h.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 1000-4, available, 1e-9)
}

func TestTradeProcessor_TrailingStop(t *testing.T) {
	h := startedProcessor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	require.NoError(t, h.processor.InitializeStrategy(st))

	h.signals.signals = []domain.Signal{
		{Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 100, TrailingStop: fptr(0.05)},
	}
	_, err := h.processor.GenerateTradesForStrategy(ctx, st)
	require.NoError(t, err)

	h.market.set("BTC/USDT", 120)
	closed, err := h.processor.MonitorOpenTrades(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)

	// 5% below the 120 peak
	h.market.set("BTC/USDT", 113)
	closed, err = h.processor.MonitorOpenTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestTradeProcessor_CleanupStrategy(t *testing.T) {
	h := startedProcessor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	require.NoError(t, h.processor.InitializeStrategy(st))

	h.processor.ShouldExecuteImmediately = func(_ domain.Trade, sig domain.Signal) bool {
		return sig.Symbol == "BTC/USDT"
	}
	h.signals.signals = []domain.Signal{
		{Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 100},
		{Symbol: "ETH/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 10},
	}
	n, err := h.processor.GenerateTradesForStrategy(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	h.market.set("BTC/USDT", 105)
	require.NoError(t, h.processor.CleanupStrategy(ctx, "s1"))

	assert.Zero(t, h.processor.ActiveCount())
	_, err = h.ledger.Available("s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	trades, err := h.store.List(ctx, domain.TradeFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusClosed, trades[0].Status)
	assert.Equal(t, string(domain.CloseReasonCleanup), trades[0].Metadata["close_reason"])
	assert.InDelta(t, 5, *trades[0].Profit, 1e-9)
	assert.NotNil(t, trades[0].ClosedAt)
	require.NotNil(t, trades[0].ExitPrice)
	assert.Equal(t, 105.0, *trades[0].ExitPrice)
}

func TestTradeProcessor_CancelledDuringCreateLeavesTradePending(t *testing.T) {
	var gated *gatedTradeStore
	h := newHarnessWithStore(t, defaultCoordinatorConfig(), func(inner *storemem.TradeStore) domain.TradeStore {
		gated = newGatedTradeStore(inner)
		return gated
	})
	require.NoError(t, h.processor.Start(context.Background()))
	t.Cleanup(h.processor.Stop)

	st := activeStrategy("s1", 1000)
	require.NoError(t, h.processor.InitializeStrategy(st))
	h.signals.signals = []domain.Signal{{Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 1, Price: 100}}

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := h.processor.GenerateTradesForStrategy(ctx, st)
		done <- result{n, err}
	}()

	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("trade creation never started")
	}
	cancel()
	close(gated.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not return")
	}
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.n)

	trades, err := h.store.List(context.Background(), domain.TradeFilter{StrategyID: "s1"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusPending, trades[0].Status)
	assert.Nil(t, trades[0].ExecutedAt)
}

func TestTradeProcessor_InitializeCountsActiveTrades(t *testing.T) {
	h := startedProcessor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	require.NoError(t, h.processor.InitializeStrategy(st))
	h.signals.signals = []domain.Signal{{Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 3, Price: 100}}
	_, err := h.processor.GenerateTradesForStrategy(ctx, st)
	require.NoError(t, err)

	// a fresh ledger, as after a restart, picks up the reserved capital
	h.ledger.Remove("s1")
	require.NoError(t, h.processor.InitializeStrategy(st))
	b, err := h.ledger.Budget("s1")
	require.NoError(t, err)
	assert.InDelta(t, 300, b.Allocated, 1e-9)
	assert.InDelta(t, 700, b.Available, 1e-9)
}
