// Package server exposes the HTTP API and the WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/server/handler"
	"github.com/alanyoungcy/stratbot/internal/server/middleware"
	"github.com/alanyoungcy/stratbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string // empty disables authentication
	RateLimitPerMinute int    // zero disables rate limiting
}

// Handlers aggregates every HTTP handler the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Strategies *handler.StrategyHandler
	Trades     *handler.TradeHandler
	Monitoring *handler.MonitoringHandler
	Market     *handler.MarketHandler
	Archives   *handler.ArchiveHandler
	Events     *handler.EventsHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain
// CORS -> auth -> rate limit -> logging. wsHub and limiter may be nil.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := Routes(h, wsHub)

	var root http.Handler = middleware.Logging(logger)(mux)
	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute, logger)(root)
	}
	root = middleware.Auth(cfg.APIKey)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes returns the API mux.
func Routes(h Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/strategies", h.Strategies.List)
	mux.HandleFunc("POST /api/strategies", h.Strategies.Create)
	mux.HandleFunc("GET /api/strategies/{id}", h.Strategies.Get)
	mux.HandleFunc("PUT /api/strategies/{id}", h.Strategies.Update)
	mux.HandleFunc("DELETE /api/strategies/{id}", h.Strategies.Delete)
	mux.HandleFunc("POST /api/strategies/{id}/activate", h.Strategies.Activate)
	mux.HandleFunc("POST /api/strategies/{id}/deactivate", h.Strategies.Deactivate)
	mux.HandleFunc("POST /api/strategies/{id}/adapt", h.Strategies.Adapt)
	mux.HandleFunc("GET /api/strategies/{id}/budget", h.Strategies.Budget)

	mux.HandleFunc("GET /api/trades", h.Trades.List)
	mux.HandleFunc("POST /api/trades", h.Trades.Create)
	mux.HandleFunc("GET /api/trades/{id}", h.Trades.Get)
	mux.HandleFunc("DELETE /api/trades/{id}", h.Trades.Delete)
	mux.HandleFunc("POST /api/trades/{id}/execute", h.Trades.Execute)
	mux.HandleFunc("POST /api/trades/{id}/close", h.Trades.Close)

	mux.HandleFunc("GET /api/monitoring/status", h.Monitoring.Statuses)
	mux.HandleFunc("GET /api/monitoring/status/{id}", h.Monitoring.Status)
	mux.HandleFunc("GET /api/monitoring/history/{id}", h.Monitoring.History)
	mux.HandleFunc("GET /api/monitoring/tasks", h.Monitoring.Tasks)
	mux.HandleFunc("GET /api/monitoring/market-fit/{id}", h.Monitoring.MarketFit)

	mux.HandleFunc("GET /api/market/{symbol}/price", h.Market.Price)
	mux.HandleFunc("GET /api/market/{symbol}/candles", h.Market.Candles)

	mux.HandleFunc("GET /api/archives", h.Archives.List)
	mux.HandleFunc("GET /api/archives/{kind}/{file}", h.Archives.Download)
	mux.HandleFunc("GET /api/events/trades", h.Events.Trades)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
