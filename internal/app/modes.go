package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stratbot/internal/archive"
	"github.com/alanyoungcy/stratbot/internal/background"
	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/scheduler"
	"github.com/alanyoungcy/stratbot/internal/server"
	"github.com/alanyoungcy/stratbot/internal/server/handler"
	"github.com/alanyoungcy/stratbot/internal/server/ws"
	"github.com/alanyoungcy/stratbot/internal/service"
)

// runtime is the service graph shared by both modes.
type runtime struct {
	prices      *service.PriceService
	trades      *service.TradeService
	strategies  *service.StrategyService
	coordinator *background.Coordinator
}

// buildRuntime constructs the services and the background coordinator. The
// price service sits in front of the exchange so every consumer shares the
// price cache.
func (a *App) buildRuntime(deps *Dependencies) (*runtime, error) {
	bg := a.cfg.Background

	prices := service.NewPriceService(deps.Exchange, deps.PriceCache, deps.SignalBus, a.logger)
	market := service.NewMarketService(prices, a.logger)
	ledger := service.NewBudgetLedger(a.logger)

	trades := service.NewTradeService(
		deps.TradeStore, ledger, prices, deps.SignalBus, deps.AuditStore,
		deps.LockManager, deps.Notifier, a.logger,
	)
	strategies := service.NewStrategyService(
		deps.StrategyStore, deps.SignalBus, deps.AuditStore, deps.Advisor,
		market, bg.CandleTimeframe, bg.CandleLimit, a.logger,
	)

	monitor := background.NewMonitor(
		market, deps.TradeStore, deps.MonitoringStore, deps.SignalBus,
		strategies, deps.Notifier,
		background.MonitorConfig{
			CheckInterval:    bg.HealthCheckInterval.Duration,
			RecoveryAttempts: bg.RecoveryAttempts,
			Timeframe:        bg.CandleTimeframe,
			CandleLimit:      bg.CandleLimit,
		},
		a.logger,
	)
	if bg.AutoAdapt {
		monitor.ShouldAdapt = func(_ domain.Strategy, meta domain.MonitoringMetadata) bool {
			return meta.MarketFit != nil && meta.MarketFit.RequiresUpdate
		}
	}

	processor := background.NewTradeProcessor(trades, market, deps.Signals,
		background.TradeProcessorConfig{
			MinTradeBudget: bg.MinTradeBudget,
			Timeframe:      bg.CandleTimeframe,
			CandleLimit:    bg.CandleLimit,
		},
		a.logger,
	)

	var jobs []background.PeriodicJob
	if deps.Archiver != nil {
		job, err := archive.NewJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.cfg.Archive.Cron, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: archive job: %w", err)
		}
		jobs = append(jobs, job)
	}

	coordinator := background.NewCoordinator(
		scheduler.New(a.logger), monitor, processor, jobs,
		background.CoordinatorConfig{
			TradingEnabled:          bg.TradingEnabled,
			HealthCheckInterval:     bg.HealthCheckInterval.Duration,
			TradeGenerationInterval: bg.TradeGenerationInterval.Duration,
			TradeMonitorInterval:    bg.TradeMonitorInterval.Duration,
			MarketFitInterval:       bg.MarketFitInterval.Duration,
			MaxStrategies:           bg.MaxStrategies,
		},
		a.logger,
	)
	strategies.SetRuntime(coordinator)

	return &runtime{
		prices:      prices,
		trades:      trades,
		strategies:  strategies,
		coordinator: coordinator,
	}, nil
}

// runCoordinator starts the coordinator and stops it when ctx is cancelled.
func (a *App) runCoordinator(ctx context.Context, g *errgroup.Group, c *background.Coordinator) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		c.Stop()
		return nil
	})
	return nil
}

// FullMode serves the HTTP API and WebSocket stream and runs the background
// coordinator in the same process. Activations through the API reach the
// coordinator directly.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	rt, err := a.buildRuntime(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.runCoordinator(ctx, g, rt.coordinator); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; full mode runs without the HTTP API")
	}

	return waitGroup(g)
}

// HeadlessMode runs only the background coordinator. Activation changes made
// through an API instance arrive on the strategy_control bus channel.
func (a *App) HeadlessMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting headless mode")

	rt, err := a.buildRuntime(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.runCoordinator(ctx, g, rt.coordinator); err != nil {
		return fmt.Errorf("headless mode: %w", err)
	}
	g.Go(func() error {
		return rt.coordinator.ListenControl(ctx, deps.SignalBus, deps.StrategyStore)
	})

	return waitGroup(g)
}

// startHTTPServer adds the HTTP server and the WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, rt.coordinator, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var archives handler.ArchiveBrowser
	if deps.Archiver != nil {
		archives = deps.Archiver
	}

	h := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, a.version, startedAt, rt.coordinator),
		Strategies: handler.NewStrategyHandler(rt.strategies, rt.coordinator, a.logger),
		Trades:     handler.NewTradeHandler(rt.trades, a.logger),
		Monitoring: handler.NewMonitoringHandler(rt.coordinator, deps.MonitoringStore, a.logger),
		Market:     handler.NewMarketHandler(rt.prices, a.logger),
		Archives:   handler.NewArchiveHandler(archives, a.logger),
		Events:     handler.NewEventsHandler(deps.SignalBus, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// waitGroup waits for g and maps a cancelled context to the clean-shutdown
// error the caller expects.
func waitGroup(g *errgroup.Group) error {
	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}
