package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/stratbot/internal/blob/s3"
	cachemem "github.com/alanyoungcy/stratbot/internal/cache/memory"
	"github.com/alanyoungcy/stratbot/internal/cache/redis"
	"github.com/alanyoungcy/stratbot/internal/config"
	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/notify"
	"github.com/alanyoungcy/stratbot/internal/platform/binance"
	"github.com/alanyoungcy/stratbot/internal/platform/deepseek"
	"github.com/alanyoungcy/stratbot/internal/platform/synthetic"
	"github.com/alanyoungcy/stratbot/internal/server/handler"
	storemem "github.com/alanyoungcy/stratbot/internal/store/memory"
	"github.com/alanyoungcy/stratbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	StrategyStore   domain.StrategyStore
	TradeStore      domain.TradeStore
	MonitoringStore domain.MonitoringStore
	AuditStore      domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Providers
	Exchange domain.MarketDataProvider
	Signals  domain.SignalProvider
	Advisor  domain.StrategyAdvisor

	// Archiver is nil unless s3 and archive are enabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks of external dependencies, keyed by name.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Disabled backends fall back to
// in-memory implementations.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := openPostgres(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.StrategyStore = postgres.NewStrategyStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.MonitoringStore = postgres.NewMonitoringStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "supabase disabled; strategies and trades are kept in memory")
		deps.StrategyStore = storemem.NewStrategyStore()
		deps.TradeStore = storemem.NewTradeStore()
		deps.MonitoringStore = storemem.NewMonitoringStore()
		deps.AuditStore = storemem.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.PriceCache = cachemem.NewPriceCache(cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = cachemem.NewRateLimiter()
		deps.LockManager = cachemem.NewLockManager()
		deps.SignalBus = cachemem.NewSignalBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = bucket.Health

		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(
				bucket,
				deps.TradeStore,
				deps.MonitoringStore,
				deps.AuditStore,
				s3blob.ArchiverConfig{Prune: cfg.Archive.Prune},
				logger,
			)
		}
	}

	// --- Providers ---
	deps.Exchange, deps.Signals, deps.Advisor = providers(cfg)
	logger.InfoContext(ctx, "providers selected",
		slog.String("exchange", cfg.ExchangeProvider()),
		slog.String("ai", cfg.AIProvider()),
		slog.Bool("demo", cfg.Demo.Enabled),
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return client, nil
}

// providers picks the exchange and AI implementations. Demo mode forces both
// synthetic; a missing AI key does the same for the AI alone.
func providers(cfg *config.Config) (domain.MarketDataProvider, domain.SignalProvider, domain.StrategyAdvisor) {
	var exchange domain.MarketDataProvider
	if cfg.ExchangeProvider() == "synthetic" {
		exchange = synthetic.NewExchange(cfg.Exchange.Seed)
	} else {
		exchange = binance.NewClient(binance.Config{
			BaseURL:           cfg.Exchange.BaseURL,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
			Burst:             cfg.Exchange.Burst,
			Timeout:           cfg.Exchange.Timeout.Duration,
		})
	}

	if cfg.AIProvider() == "synthetic" {
		ai := synthetic.NewAI(cfg.Exchange.Seed)
		return exchange, ai, ai
	}
	ai := deepseek.NewClient(deepseek.Config{
		APIURL:      cfg.AI.APIURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Timeout:     cfg.AI.Timeout.Duration,
	})
	return exchange, ai, ai
}

// Migrate applies the embedded Postgres migrations and exits.
func Migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := openPostgres(ctx, cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer client.Close()

	if err := client.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.InfoContext(ctx, "migrations applied")
	return nil
}
