package background

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

type recordingAdapter struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingAdapter) AdaptWithSnapshot(_ context.Context, st domain.Strategy, _ domain.MarketSnapshot) (domain.Strategy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, st.ID)
	return st, nil
}

func startedMonitor(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, defaultCoordinatorConfig())
	require.NoError(t, h.monitor.Start(context.Background()))
	t.Cleanup(h.monitor.Stop)
	return h
}

func TestMonitor_AddSetsInitialStatus(t *testing.T) {
	h := startedMonitor(t)
	st := activeStrategy("s1", 1000)
	h.monitor.Add(st)

	status, ok := h.monitor.Status("s1")
	require.True(t, ok)
	assert.Equal(t, domain.MonitorStatusActive, status.Status)
	assert.Equal(t, domain.MarketConditionsUnknown, status.Metadata.MarketConditions)
	assert.Equal(t, domain.HealthUnknown, status.Metadata.StrategyHealth)
	assert.True(t, status.NextCheck.After(status.LastCheck))

	h.monitor.Remove("s1")
	h.monitor.Remove("s1")
	_, ok = h.monitor.Status("s1")
	assert.False(t, ok)
}

func TestMonitor_EvaluateUnknownStrategy(t *testing.T) {
	h := startedMonitor(t)
	err := h.monitor.Evaluate(context.Background(), activeStrategy("ghost", 100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMonitor_EvaluateComputesMetadata(t *testing.T) {
	h := startedMonitor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	h.monitor.Add(st)
	before, _ := h.monitor.Status("s1")

	profit := 25.0
	_, err := h.store.Create(ctx, domain.Trade{
		ID: "t1", StrategyID: "s1", Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Status: domain.TradeStatusClosed, Amount: 1, EntryPrice: fptr(100), ReservedCost: 100, Profit: &profit,
	})
	require.NoError(t, err)

	require.NoError(t, h.monitor.Evaluate(ctx, st))

	status, ok := h.monitor.Status("s1")
	require.True(t, ok)
	assert.Equal(t, domain.MonitorStatusActive, status.Status)
	assert.False(t, status.LastCheck.Before(before.LastCheck))
	assert.Equal(t, domain.MarketConditionsNeutral, status.Metadata.MarketConditions)
	assert.Equal(t, domain.HealthHealthy, status.Metadata.StrategyHealth)
	assert.Equal(t, 1, status.Metadata.Performance.TotalTrades)
	assert.InDelta(t, 25, status.Metadata.Performance.ProfitLoss, 1e-9)
	require.NotNil(t, status.Metadata.LastEvaluation)
	assert.Contains(t, status.Metadata.MarketData, "BTC/USDT")

	snaps, err := h.snapshots.ListSnapshots(ctx, "s1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestMonitor_EvaluateErrorsReachErrorStatus(t *testing.T) {
	h := startedMonitor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	h.monitor.Add(st)

	h.market.fail(errors.New("exchange down"))
	for i := 1; i <= 3; i++ {
		require.Error(t, h.monitor.Evaluate(ctx, st))
		status, _ := h.monitor.Status("s1")
		assert.Equal(t, i, status.ErrorCount)
		require.NotNil(t, status.LastError)
		if i < 3 {
			assert.Equal(t, domain.MonitorStatusActive, status.Status)
		}
	}
	status, _ := h.monitor.Status("s1")
	assert.Equal(t, domain.MonitorStatusError, status.Status)

	h.market.fail(nil)
	require.NoError(t, h.monitor.Evaluate(ctx, st))
	status, _ = h.monitor.Status("s1")
	assert.Equal(t, domain.MonitorStatusActive, status.Status)
	assert.Zero(t, status.ErrorCount)
	assert.Nil(t, status.LastError)
}

func TestMonitor_ShouldAdaptHook(t *testing.T) {
	h := newHarness(t, defaultCoordinatorConfig())
	adapter := &recordingAdapter{}
	h.monitor.adapter = adapter
	h.monitor.ShouldAdapt = func(_ domain.Strategy, meta domain.MonitoringMetadata) bool {
		return meta.StrategyHealth == domain.HealthHealthy
	}
	require.NoError(t, h.monitor.Start(context.Background()))
	defer h.monitor.Stop()

	st := activeStrategy("s1", 1000)
	h.monitor.Add(st)
	require.NoError(t, h.monitor.Evaluate(context.Background(), st))
	assert.Equal(t, []string{"s1"}, adapter.calls)
}

func TestMonitor_AnalyzeMarketFitKeptAcrossEvaluations(t *testing.T) {
	h := startedMonitor(t)
	ctx := context.Background()
	st := activeStrategy("s1", 1000)
	h.monitor.Add(st)

	fit, err := h.monitor.AnalyzeMarketFit(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, "low", fit.VolatilityRegime)
	assert.False(t, fit.AnalyzedAt.IsZero())

	require.NoError(t, h.monitor.Evaluate(ctx, st))
	status, _ := h.monitor.Status("s1")
	require.NotNil(t, status.Metadata.MarketFit)
	assert.Equal(t, fit.MarketRegime, status.Metadata.MarketFit.MarketRegime)
}

func TestMonitor_StoppedSkipsEvaluation(t *testing.T) {
	h := newHarness(t, defaultCoordinatorConfig())
	st := activeStrategy("s1", 1000)
	h.monitor.Add(st)
	h.market.fail(errors.New("unreachable"))

	require.NoError(t, h.monitor.Evaluate(context.Background(), st))
	status, _ := h.monitor.Status("s1")
	assert.Zero(t, status.ErrorCount)
}
