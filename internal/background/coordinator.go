package background

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/scheduler"
)

// Global task ids.
const (
	TaskTradesMonitor = "trades:monitor"
	TaskArchive       = "archive"
)

func evaluateTaskID(id string) string  { return "strategy:" + id + ":evaluate" }
func tradesTaskID(id string) string    { return "strategy:" + id + ":trades" }
func marketFitTaskID(id string) string { return "strategy:" + id + ":market-fit" }

// PeriodicJob registers its own tasks on the scheduler when the coordinator
// starts.
type PeriodicJob interface {
	Register(s *scheduler.Scheduler) error
}

// CoordinatorConfig holds task intervals and limits.
type CoordinatorConfig struct {
	TradingEnabled          bool
	HealthCheckInterval     time.Duration
	TradeGenerationInterval time.Duration
	TradeMonitorInterval    time.Duration
	MarketFitInterval       time.Duration
	MaxStrategies           int
}

// Coordinator owns the set of running strategies and their scheduled tasks.
type Coordinator struct {
	sched     *scheduler.Scheduler
	monitor   *Monitor
	processor *TradeProcessor
	jobs      []PeriodicJob
	cfg       CoordinatorConfig
	logger    *slog.Logger

	// lifecycle serialises AddStrategy and the table change of
	// RemoveStrategy. Trade cleanup runs outside it.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	active   map[string]domain.Strategy
	removing map[string]struct{}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	sched *scheduler.Scheduler,
	monitor *Monitor,
	processor *TradeProcessor,
	jobs []PeriodicJob,
	cfg CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if cfg.MaxStrategies <= 0 {
		cfg.MaxStrategies = 50
	}
	return &Coordinator{
		sched:     sched,
		monitor:   monitor,
		processor: processor,
		jobs:      jobs,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "coordinator")),
		active:    make(map[string]domain.Strategy),
		removing:  make(map[string]struct{}),
	}
}

// Start brings up the monitor, the scheduler and the trade processor, then
// registers the global tasks. Strategies are not loaded eagerly.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.monitor.Start(ctx); err != nil {
		return fmt.Errorf("coordinator: start monitor: %w", err)
	}
	c.sched.Start(ctx)
	if err := c.processor.Start(ctx); err != nil {
		c.sched.Stop()
		c.monitor.Stop()
		return fmt.Errorf("coordinator: start trade processor: %w", err)
	}

	if c.cfg.TradingEnabled {
		if err := c.sched.ScheduleRecurring(TaskTradesMonitor, "monitor open trades", c.cfg.TradeMonitorInterval,
			func(ctx context.Context) error {
				_, err := c.processor.MonitorOpenTrades(ctx)
				return err
			}); err != nil {
			return fmt.Errorf("coordinator: schedule %s: %w", TaskTradesMonitor, err)
		}
	}
	for _, job := range c.jobs {
		if err := job.Register(c.sched); err != nil {
			return fmt.Errorf("coordinator: register job: %w", err)
		}
	}

	c.logger.InfoContext(ctx, "background coordinator started",
		slog.Bool("trading_enabled", c.cfg.TradingEnabled),
		slog.Int("max_strategies", c.cfg.MaxStrategies),
	)
	return nil
}

// Stop halts the scheduler, then the monitor, then the trade processor.
func (c *Coordinator) Stop() {
	c.sched.Stop()
	c.monitor.Stop()
	c.processor.Stop()
	c.logger.Info("background coordinator stopped")
}

// AddStrategy starts running a strategy. Adding a running strategy only
// refreshes the record its tasks read. A strategy whose removal is still
// cleaning up its trades cannot be added back until that finishes.
func (c *Coordinator) AddStrategy(ctx context.Context, st domain.Strategy) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	st.Status = domain.StrategyStatusActive

	c.mu.Lock()
	if _, ok := c.removing[st.ID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: add %s: removal in progress: %w", st.ID, domain.ErrInvalidState)
	}
	if _, ok := c.active[st.ID]; ok {
		c.active[st.ID] = st
		c.mu.Unlock()
		return nil
	}
	if len(c.active) >= c.cfg.MaxStrategies {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: %d strategies running: %w", c.cfg.MaxStrategies, domain.ErrCapacityExceeded)
	}
	c.active[st.ID] = st
	c.mu.Unlock()

	if err := c.processor.InitializeStrategy(st); err != nil {
		c.mu.Lock()
		delete(c.active, st.ID)
		c.mu.Unlock()
		return fmt.Errorf("coordinator: add %s: %w", st.ID, err)
	}
	c.monitor.Add(st)

	if err := c.scheduleStrategy(st.ID); err != nil {
		c.unschedule(st.ID)
		c.monitor.Remove(st.ID)
		c.mu.Lock()
		delete(c.active, st.ID)
		c.mu.Unlock()
		return fmt.Errorf("coordinator: add %s: %w", st.ID, err)
	}

	c.logger.InfoContext(ctx, "strategy added",
		slog.String("strategy_id", st.ID),
		slog.String("name", st.Name),
		slog.Int("symbols", len(st.Symbols)),
	)
	return nil
}

func (c *Coordinator) scheduleStrategy(id string) error {
	if err := c.sched.ScheduleRecurring(evaluateTaskID(id), "evaluate strategy", c.cfg.HealthCheckInterval,
		func(ctx context.Context) error {
			st, ok := c.strategy(id)
			if !ok {
				return nil
			}
			return c.monitor.Evaluate(ctx, st)
		}); err != nil {
		return err
	}

	if c.cfg.TradingEnabled {
		if err := c.sched.ScheduleRecurring(tradesTaskID(id), "generate trades", c.cfg.TradeGenerationInterval,
			func(ctx context.Context) error {
				st, ok := c.strategy(id)
				if !ok {
					return nil
				}
				_, err := c.processor.GenerateTradesForStrategy(ctx, st)
				return err
			}); err != nil {
			return err
		}
	}

	return c.sched.ScheduleRecurring(marketFitTaskID(id), "analyze market fit", c.cfg.MarketFitInterval,
		func(ctx context.Context) error {
			st, ok := c.strategy(id)
			if !ok {
				return nil
			}
			_, err := c.monitor.AnalyzeMarketFit(ctx, st)
			return err
		})
}

func (c *Coordinator) unschedule(id string) {
	c.sched.Cancel(evaluateTaskID(id))
	c.sched.Cancel(tradesTaskID(id))
	c.sched.Cancel(marketFitTaskID(id))
}

// RemoveStrategy stops a strategy, closes or deletes its active trades and
// drops its budget. Removing an unknown strategy is a no-op. It returns once
// the strategy's in-flight tasks finished and its trades were cleaned up;
// other strategies can be added and removed meanwhile.
func (c *Coordinator) RemoveStrategy(ctx context.Context, id string) error {
	c.lifecycle.Lock()
	c.mu.Lock()
	_, ok := c.active[id]
	if ok {
		delete(c.active, id)
		c.removing[id] = struct{}{}
	}
	c.mu.Unlock()
	c.lifecycle.Unlock()
	if !ok {
		return nil
	}
	defer func() {
		c.mu.Lock()
		delete(c.removing, id)
		c.mu.Unlock()
	}()

	c.unschedule(id)
	c.monitor.Remove(id)
	if err := c.processor.CleanupStrategy(ctx, id); err != nil {
		return fmt.Errorf("coordinator: remove %s: %w", id, err)
	}

	c.logger.InfoContext(ctx, "strategy removed", slog.String("strategy_id", id))
	return nil
}

func (c *Coordinator) strategy(id string) (domain.Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.active[id]
	return st, ok
}

// ActiveStrategies returns the running strategies ordered by id.
func (c *Coordinator) ActiveStrategies() []domain.Strategy {
	c.mu.RLock()
	out := make([]domain.Strategy, 0, len(c.active))
	for _, st := range c.active {
		out = append(out, st)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsActive reports whether a strategy is running.
func (c *Coordinator) IsActive(id string) bool {
	_, ok := c.strategy(id)
	return ok
}

// StrategyStatus returns the monitoring status of a running strategy.
func (c *Coordinator) StrategyStatus(id string) (domain.MonitoringStatus, bool) {
	return c.monitor.Status(id)
}

// StrategyStatuses returns the monitoring status of every running strategy.
func (c *Coordinator) StrategyStatuses() []domain.MonitoringStatus {
	return c.monitor.Statuses()
}

// AnalyzeMarketFit runs an on-demand market-fit analysis.
func (c *Coordinator) AnalyzeMarketFit(ctx context.Context, id string) (domain.MarketFit, error) {
	st, ok := c.strategy(id)
	if !ok {
		return domain.MarketFit{}, fmt.Errorf("coordinator: strategy %s not running: %w", id, domain.ErrNotFound)
	}
	return c.monitor.AnalyzeMarketFit(ctx, st)
}

// TaskStatuses returns every scheduled task.
func (c *Coordinator) TaskStatuses() []scheduler.TaskStatus {
	return c.sched.TaskStatuses()
}

// Budget returns the ledger entry of a running strategy.
func (c *Coordinator) Budget(id string) (domain.StrategyBudget, error) {
	return c.processor.ledger.Budget(id)
}

// Budgets returns every ledger entry.
func (c *Coordinator) Budgets() []domain.StrategyBudget {
	return c.processor.ledger.Snapshot()
}

// ActiveTradeCount returns the number of indexed active trades.
func (c *Coordinator) ActiveTradeCount() int {
	return c.processor.ActiveCount()
}
