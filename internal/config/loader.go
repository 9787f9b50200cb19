package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STRATBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STRATBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "STRATBOT_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "STRATBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "STRATBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "STRATBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "STRATBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "STRATBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "STRATBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "STRATBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "STRATBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "STRATBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "STRATBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "STRATBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "STRATBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STRATBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STRATBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STRATBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STRATBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STRATBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STRATBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "STRATBOT_REDIS_PRICE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "STRATBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STRATBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STRATBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STRATBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "STRATBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STRATBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STRATBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STRATBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STRATBOT_S3_FORCE_PATH_STYLE")

	// ── Exchange ──
	setStr(&cfg.Exchange.Provider, "STRATBOT_EXCHANGE_PROVIDER")
	setStr(&cfg.Exchange.BaseURL, "STRATBOT_EXCHANGE_BASE_URL")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "STRATBOT_EXCHANGE_REQUESTS_PER_SECOND")
	setInt(&cfg.Exchange.Burst, "STRATBOT_EXCHANGE_BURST")
	setDuration(&cfg.Exchange.Timeout, "STRATBOT_EXCHANGE_TIMEOUT")

	// ── AI ──
	setStr(&cfg.AI.Provider, "STRATBOT_AI_PROVIDER")
	setStr(&cfg.AI.APIURL, "STRATBOT_AI_API_URL")
	setStr(&cfg.AI.APIKey, "STRATBOT_AI_API_KEY")
	setStr(&cfg.AI.APIKey, "DEEPSEEK_API_KEY") // compatibility alias
	setStr(&cfg.AI.Model, "STRATBOT_AI_MODEL")
	setFloat64(&cfg.AI.Temperature, "STRATBOT_AI_TEMPERATURE")
	setInt(&cfg.AI.MaxTokens, "STRATBOT_AI_MAX_TOKENS")
	setDuration(&cfg.AI.Timeout, "STRATBOT_AI_TIMEOUT")

	// ── Demo ──
	setBool(&cfg.Demo.Enabled, "STRATBOT_DEMO_ENABLED")
	setBool(&cfg.Demo.Enabled, "STRATBOT_DEMO_MODE") // compatibility alias

	// ── Background ──
	setBool(&cfg.Background.TradingEnabled, "STRATBOT_BACKGROUND_TRADING_ENABLED")
	setDuration(&cfg.Background.HealthCheckInterval, "STRATBOT_BACKGROUND_HEALTH_CHECK_INTERVAL")
	setDuration(&cfg.Background.TradeGenerationInterval, "STRATBOT_BACKGROUND_TRADE_GENERATION_INTERVAL")
	setDuration(&cfg.Background.TradeMonitorInterval, "STRATBOT_BACKGROUND_TRADE_MONITOR_INTERVAL")
	setDuration(&cfg.Background.MarketFitInterval, "STRATBOT_BACKGROUND_MARKET_FIT_CHECK_INTERVAL")
	setInt(&cfg.Background.MaxStrategies, "STRATBOT_BACKGROUND_MAX_STRATEGIES")
	setInt(&cfg.Background.RecoveryAttempts, "STRATBOT_BACKGROUND_RECOVERY_ATTEMPTS")
	setFloat64(&cfg.Background.MinTradeBudget, "STRATBOT_BACKGROUND_MIN_TRADE_BUDGET")
	setStr(&cfg.Background.CandleTimeframe, "STRATBOT_BACKGROUND_CANDLE_TIMEFRAME")
	setInt(&cfg.Background.CandleLimit, "STRATBOT_BACKGROUND_CANDLE_LIMIT")
	setBool(&cfg.Background.AutoAdapt, "STRATBOT_BACKGROUND_AUTO_ADAPT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STRATBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "STRATBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "STRATBOT_ARCHIVE_CRON")
	setBool(&cfg.Archive.Prune, "STRATBOT_ARCHIVE_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STRATBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STRATBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STRATBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "STRATBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "STRATBOT_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STRATBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STRATBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STRATBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STRATBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STRATBOT_MODE")
	setStr(&cfg.LogLevel, "STRATBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
