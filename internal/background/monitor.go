// Package background runs the strategy/trade processing loop: the monitor
// evaluates active strategies, the trade processor generates and supervises
// trades, and the coordinator wires both into the scheduler.
package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/notify"
	"github.com/alanyoungcy/stratbot/internal/service"
)

// StrategyAdapter applies an AI-proposed configuration to a strategy.
type StrategyAdapter interface {
	AdaptWithSnapshot(ctx context.Context, st domain.Strategy, snap domain.MarketSnapshot) (domain.Strategy, error)
}

// MonitorConfig tunes evaluation.
type MonitorConfig struct {
	CheckInterval    time.Duration
	RecoveryAttempts int
	Timeframe        string
	CandleLimit      int
}

// Monitor evaluates strategies and keeps their latest MonitoringStatus.
type Monitor struct {
	market    *service.MarketService
	trades    domain.TradeStore
	snapshots domain.MonitoringStore // optional
	bus       domain.SignalBus
	adapter   StrategyAdapter // optional
	notifier  *notify.Notifier
	cfg       MonitorConfig
	logger    *slog.Logger

	// ShouldAdapt decides after an evaluation or market-fit analysis whether
	// the strategy is handed to the adapter. It defaults to never.
	ShouldAdapt func(st domain.Strategy, meta domain.MonitoringMetadata) bool

	mu       sync.RWMutex
	statuses map[string]domain.MonitoringStatus

	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewMonitor creates a Monitor. snapshots, adapter and notifier may be nil.
func NewMonitor(
	market *service.MarketService,
	trades domain.TradeStore,
	snapshots domain.MonitoringStore,
	bus domain.SignalBus,
	adapter StrategyAdapter,
	notifier *notify.Notifier,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.RecoveryAttempts <= 0 {
		cfg.RecoveryAttempts = 3
	}
	return &Monitor{
		market:      market,
		trades:      trades,
		snapshots:   snapshots,
		bus:         bus,
		adapter:     adapter,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "monitor")),
		ShouldAdapt: func(domain.Strategy, domain.MonitoringMetadata) bool { return false },
		statuses:    make(map[string]domain.MonitoringStatus),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start enables evaluations.
func (m *Monitor) Start(_ context.Context) error {
	m.runMu.Lock()
	m.running = true
	m.runMu.Unlock()
	m.logger.Info("strategy monitor started")
	return nil
}

// Stop rejects new evaluations and waits for in-flight ones.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	m.running = false
	m.runMu.Unlock()
	m.wg.Wait()
	m.logger.Info("strategy monitor stopped")
}

// enter registers an in-flight pass; it fails once the monitor is stopped.
func (m *Monitor) enter() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return false
	}
	m.wg.Add(1)
	return true
}

// Add starts tracking a strategy. Re-adding keeps the existing status.
func (m *Monitor) Add(st domain.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[st.ID]; ok {
		return
	}
	now := m.now()
	m.statuses[st.ID] = domain.MonitoringStatus{
		StrategyID: st.ID,
		Status:     domain.MonitorStatusActive,
		LastCheck:  now,
		NextCheck:  now.Add(m.cfg.CheckInterval),
		Metadata: domain.MonitoringMetadata{
			MarketConditions: domain.MarketConditionsUnknown,
			StrategyHealth:   domain.HealthUnknown,
		},
	}
}

// Remove stops tracking a strategy. It is idempotent.
func (m *Monitor) Remove(id string) {
	m.mu.Lock()
	delete(m.statuses, id)
	m.mu.Unlock()
}

// Status returns the latest status of a strategy.
func (m *Monitor) Status(id string) (domain.MonitoringStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[id]
	return st, ok
}

// Statuses returns every tracked status ordered by strategy id.
func (m *Monitor) Statuses() []domain.MonitoringStatus {
	m.mu.RLock()
	out := make([]domain.MonitoringStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// Evaluate collects market data and trade history for a strategy, computes
// its metrics and replaces its status metadata. last_check and next_check
// advance even when the evaluation fails.
func (m *Monitor) Evaluate(ctx context.Context, st domain.Strategy) error {
	if !m.enter() {
		return nil
	}
	defer m.wg.Done()

	if _, ok := m.Status(st.ID); !ok {
		return fmt.Errorf("monitor: evaluate %s: %w", st.ID, domain.ErrNotFound)
	}

	meta, snap, evalErr := m.evaluate(ctx, st)
	status, committed := m.commit(st.ID, meta, evalErr)
	if !committed {
		return nil
	}
	m.persist(ctx, status)

	if evalErr != nil {
		m.logger.WarnContext(ctx, "strategy evaluation failed",
			slog.String("strategy_id", st.ID),
			slog.Int("error_count", status.ErrorCount),
			slog.String("error", evalErr.Error()),
		)
		if status.Status == domain.MonitorStatusError && status.ErrorCount == m.cfg.RecoveryAttempts {
			m.notifyError(ctx, st, evalErr)
		}
		return fmt.Errorf("monitor: evaluate %s: %w", st.ID, evalErr)
	}

	m.logger.DebugContext(ctx, "strategy evaluated",
		slog.String("strategy_id", st.ID),
		slog.String("market_conditions", meta.MarketConditions),
		slog.String("strategy_health", meta.StrategyHealth),
	)
	m.maybeAdapt(ctx, st, meta, snap)
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, st domain.Strategy) (domain.MonitoringMetadata, domain.MarketSnapshot, error) {
	snap, err := m.market.Snapshot(ctx, st.Symbols, m.cfg.Timeframe, m.cfg.CandleLimit)
	if err != nil {
		return domain.MonitoringMetadata{}, nil, err
	}
	history, err := m.trades.List(ctx, domain.TradeFilter{StrategyID: st.ID})
	if err != nil {
		return domain.MonitoringMetadata{}, nil, fmt.Errorf("trade history: %w", err)
	}

	perf := performanceMetrics(history, st.Budget)
	risk := riskMetrics(history, snap, st.Budget)
	now := m.now()
	meta := domain.MonitoringMetadata{
		MarketConditions: marketConditions(snap),
		StrategyHealth:   strategyHealth(perf, risk),
		LastEvaluation:   &now,
		MarketData:       snap,
		Performance:      perf,
		Risk:             risk,
	}
	return meta, snap, nil
}

// commit writes the evaluation outcome into the status table. It reports
// false when the strategy was removed while evaluating.
func (m *Monitor) commit(id string, meta domain.MonitoringMetadata, evalErr error) (domain.MonitoringStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[id]
	if !ok {
		return domain.MonitoringStatus{}, false
	}
	now := m.now()
	status.LastCheck = now
	status.NextCheck = now.Add(m.cfg.CheckInterval)

	if evalErr != nil {
		msg := evalErr.Error()
		status.ErrorCount++
		status.LastError = &msg
		if status.ErrorCount >= m.cfg.RecoveryAttempts {
			status.Status = domain.MonitorStatusError
		}
	} else {
		meta.MarketFit = status.Metadata.MarketFit
		status.Metadata = meta
		status.ErrorCount = 0
		status.LastError = nil
		status.Status = domain.MonitorStatusActive
	}
	m.statuses[id] = status
	return status, true
}

// AnalyzeMarketFit runs the periodic market-fit analysis and stores it on
// the strategy's status.
func (m *Monitor) AnalyzeMarketFit(ctx context.Context, st domain.Strategy) (domain.MarketFit, error) {
	if !m.enter() {
		return domain.MarketFit{}, nil
	}
	defer m.wg.Done()

	snap, err := m.market.Snapshot(ctx, st.Symbols, m.cfg.Timeframe, m.cfg.CandleLimit)
	if err != nil {
		return domain.MarketFit{}, fmt.Errorf("monitor: market fit %s: %w", st.ID, err)
	}

	health := domain.HealthUnknown
	if cur, ok := m.Status(st.ID); ok {
		health = cur.Metadata.StrategyHealth
	}
	fit := marketFit(st, snap, health)
	fit.AnalyzedAt = m.now()

	m.mu.Lock()
	status, ok := m.statuses[st.ID]
	if ok {
		f := fit
		status.Metadata.MarketFit = &f
		m.statuses[st.ID] = status
	}
	m.mu.Unlock()

	if ok {
		m.persist(ctx, status)
	}

	m.logger.InfoContext(ctx, "market fit analyzed",
		slog.String("strategy_id", st.ID),
		slog.String("market_regime", fit.MarketRegime),
		slog.String("volatility_regime", fit.VolatilityRegime),
		slog.Bool("requires_update", fit.RequiresUpdate),
	)

	if fit.RequiresUpdate && ok {
		m.maybeAdapt(ctx, st, status.Metadata, snap)
	}
	return fit, nil
}

func (m *Monitor) maybeAdapt(ctx context.Context, st domain.Strategy, meta domain.MonitoringMetadata, snap domain.MarketSnapshot) {
	if m.adapter == nil || m.ShouldAdapt == nil || !m.ShouldAdapt(st, meta) {
		return
	}
	if _, err := m.adapter.AdaptWithSnapshot(ctx, st, snap); err != nil {
		m.logger.WarnContext(ctx, "strategy adaptation failed",
			slog.String("strategy_id", st.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.InfoContext(ctx, "strategy adapted", slog.String("strategy_id", st.ID))
}

// persist stores a snapshot and publishes the status. Failures are logged.
func (m *Monitor) persist(ctx context.Context, status domain.MonitoringStatus) {
	if m.snapshots != nil {
		if err := m.snapshots.SaveSnapshot(ctx, status); err != nil {
			m.logger.WarnContext(ctx, "save monitoring snapshot failed",
				slog.String("strategy_id", status.StrategyID),
				slog.String("error", err.Error()),
			)
		}
	}

	evt, err := json.Marshal(map[string]any{
		"event":  "strategy_status",
		"status": status,
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelStatus, evt); err != nil {
		m.logger.WarnContext(ctx, "publish status failed",
			slog.String("strategy_id", status.StrategyID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Monitor) notifyError(ctx context.Context, st domain.Strategy, cause error) {
	msg := fmt.Sprintf("%s (%s) failed %d consecutive evaluations: %v", st.Name, st.ID, m.cfg.RecoveryAttempts, cause)
	if err := m.notifier.Notify(ctx, notify.EventStrategyError, "Strategy error", msg); err != nil {
		m.logger.WarnContext(ctx, "notify strategy error failed", slog.String("error", err.Error()))
	}
}
