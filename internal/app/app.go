// Package app wires stratbot's stores, caches, providers and services and
// runs them in the configured mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/stratbot/internal/config"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App. cfg must already be validated.
func New(cfg *config.Config, version string, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		version: version,
		logger:  logger.With(slog.String("component", "app")),
		cleanup: func() {},
	}
}

// Run wires dependencies and blocks in the configured mode. A clean shutdown
// returns context.Canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting stratbot",
		slog.String("version", a.version),
		slog.String("mode", a.cfg.Mode),
		slog.Bool("postgres", a.cfg.Supabase.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("archive", a.cfg.Archive.Enabled),
		slog.Bool("trading", a.cfg.Background.TradingEnabled),
	)

	var run func(context.Context, *Dependencies) error
	switch strings.ToLower(a.cfg.Mode) {
	case config.ModeFull:
		run = a.FullMode
	case config.ModeHeadless:
		run = a.HeadlessMode
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup
	return run(ctx, deps)
}

// Close releases everything Wire opened. Further calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cleanup()
		a.logger.Info("stratbot stopped")
	})
}
