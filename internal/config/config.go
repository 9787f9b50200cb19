// Package config defines the top-level configuration for stratbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STRATBOT_* environment variables.
type Config struct {
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	AI         AIConfig         `toml:"ai"`
	Demo       DemoConfig       `toml:"demo"`
	Background BackgroundConfig `toml:"background"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters. When
// Enabled is false the process keeps its state in memory.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExchangeConfig selects and tunes the market data provider.
type ExchangeConfig struct {
	// Provider is "binance" or "synthetic".
	Provider          string   `toml:"provider"`
	BaseURL           string   `toml:"base_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           duration `toml:"timeout"`
	Seed              uint64   `toml:"seed"`
}

// AIConfig selects and tunes the signal/advice provider.
type AIConfig struct {
	// Provider is "deepseek" or "synthetic". An empty API key downgrades
	// deepseek to synthetic at wiring time.
	Provider    string   `toml:"provider"`
	APIURL      string   `toml:"api_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     duration `toml:"timeout"`
}

// DemoConfig forces the synthetic exchange and AI.
type DemoConfig struct {
	Enabled bool `toml:"enabled"`
}

// BackgroundConfig holds the strategy/trade loop parameters.
type BackgroundConfig struct {
	TradingEnabled          bool     `toml:"trading_enabled"`
	HealthCheckInterval     duration `toml:"health_check_interval"`
	TradeGenerationInterval duration `toml:"trade_generation_interval"`
	TradeMonitorInterval    duration `toml:"trade_monitor_interval"`
	MarketFitInterval       duration `toml:"market_fit_check_interval"`
	MaxStrategies           int      `toml:"max_strategies"`
	RecoveryAttempts        int      `toml:"recovery_attempts"`
	MinTradeBudget          float64  `toml:"min_trade_budget"`
	CandleTimeframe         string   `toml:"candle_timeframe"`
	CandleLimit             int      `toml:"candle_limit"`
	// AutoAdapt hands strategies whose market fit requires an update to the
	// AI advisor.
	AutoAdapt bool `toml:"auto_adapt"`
}

// ArchiveConfig controls cold storage of closed trades and snapshots.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	Prune         bool   `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Supabase: SupabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			PriceTTL:     duration{10 * time.Second},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stratbot-archive",
			ForcePathStyle: true,
		},
		Exchange: ExchangeConfig{
			Provider:          "binance",
			BaseURL:           "https://api.binance.com",
			RequestsPerSecond: 10,
			Burst:             5,
			Timeout:           duration{10 * time.Second},
		},
		AI: AIConfig{
			Provider:    "deepseek",
			APIURL:      "https://api.deepseek.com/v1/chat/completions",
			Model:       "deepseek-chat",
			Temperature: 0.3,
			MaxTokens:   1000,
			Timeout:     duration{30 * time.Second},
		},
		Background: BackgroundConfig{
			TradingEnabled:          true,
			HealthCheckInterval:     duration{30 * time.Second},
			TradeGenerationInterval: duration{5 * time.Minute},
			TradeMonitorInterval:    duration{30 * time.Second},
			MarketFitInterval:       duration{4 * time.Hour},
			MaxStrategies:           50,
			RecoveryAttempts:        3,
			MinTradeBudget:          10,
			CandleTimeframe:         "1h",
			CandleLimit:             100,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "strategy_error"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeFull     = "full"
	ModeHeadless = "headless"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeFull:     true,
	ModeHeadless: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, headless)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if strings.EqualFold(c.Mode, ModeHeadless) && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled in headless mode (strategy control arrives over the bus)")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Providers
	switch c.Exchange.Provider {
	case "binance":
		if c.Exchange.BaseURL == "" && !c.Demo.Enabled {
			errs = append(errs, "exchange: base_url must not be empty for provider binance")
		}
	case "synthetic":
	default:
		errs = append(errs, fmt.Sprintf("exchange: unknown provider %q (valid: binance, synthetic)", c.Exchange.Provider))
	}
	if c.Exchange.RequestsPerSecond < 0 {
		errs = append(errs, "exchange: requests_per_second must be >= 0")
	}
	switch c.AI.Provider {
	case "deepseek", "synthetic":
	default:
		errs = append(errs, fmt.Sprintf("ai: unknown provider %q (valid: deepseek, synthetic)", c.AI.Provider))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("ai: temperature must be within [0, 2], got %v", c.AI.Temperature))
	}

	// Background
	bg := c.Background
	for name, d := range map[string]time.Duration{
		"health_check_interval":     bg.HealthCheckInterval.Duration,
		"trade_generation_interval": bg.TradeGenerationInterval.Duration,
		"trade_monitor_interval":    bg.TradeMonitorInterval.Duration,
		"market_fit_check_interval": bg.MarketFitInterval.Duration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("background: %s must be > 0", name))
		}
	}
	if bg.MaxStrategies < 1 {
		errs = append(errs, "background: max_strategies must be >= 1")
	}
	if bg.RecoveryAttempts < 1 {
		errs = append(errs, "background: recovery_attempts must be >= 1")
	}
	if bg.MinTradeBudget <= 0 {
		errs = append(errs, "background: min_trade_budget must be > 0")
	}
	if !validTimeframes[bg.CandleTimeframe] {
		errs = append(errs, fmt.Sprintf("background: unsupported candle_timeframe %q", bg.CandleTimeframe))
	}
	if bg.CandleLimit < 1 || bg.CandleLimit > 1000 {
		errs = append(errs, fmt.Sprintf("background: candle_limit must be 1-1000, got %d", bg.CandleLimit))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExchangeProvider resolves the market data provider after demo mode.
func (c *Config) ExchangeProvider() string {
	if c.Demo.Enabled {
		return "synthetic"
	}
	return c.Exchange.Provider
}

// AIProvider resolves the signal provider after demo mode and the API key
// fallback.
func (c *Config) AIProvider() string {
	if c.Demo.Enabled || strings.TrimSpace(c.AI.APIKey) == "" {
		return "synthetic"
	}
	return c.AI.Provider
}
