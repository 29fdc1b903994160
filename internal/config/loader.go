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
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Underlying, "UPDOWN_MARKET_UNDERLYING")
	setFloat64(&cfg.Market.Fee, "UPDOWN_MARKET_FEE")
	setStr(&cfg.Market.Zone, "UPDOWN_MARKET_ZONE")
	setStr(&cfg.Market.Cutover, "UPDOWN_MARKET_CUTOVER")

	// ── Telegram ──
	setStr(&cfg.Telegram.Token, "UPDOWN_TELEGRAM_TOKEN")
	setInt(&cfg.Telegram.UpdateTimeout, "UPDOWN_TELEGRAM_UPDATE_TIMEOUT")
	setInt64Slice(&cfg.Telegram.AdminIDs, "UPDOWN_TELEGRAM_ADMIN_IDS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.PriceTTLSec, "UPDOWN_REDIS_PRICE_TTL_SEC")

	// ── Price feed ──
	setStr(&cfg.PriceFeed.BaseURL, "UPDOWN_PRICE_FEED_BASE_URL")
	setStr(&cfg.PriceFeed.StreamURL, "UPDOWN_PRICE_FEED_STREAM_URL")
	setStr(&cfg.PriceFeed.Quote, "UPDOWN_PRICE_FEED_QUOTE")
	setBool(&cfg.PriceFeed.Stream, "UPDOWN_PRICE_FEED_STREAM")
	setDuration(&cfg.PriceFeed.Poll, "UPDOWN_PRICE_FEED_POLL_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setStr(&cfg.Server.MaintenanceSecret, "UPDOWN_SERVER_MAINTENANCE_SECRET")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "UPDOWN_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "UPDOWN_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "UPDOWN_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "UPDOWN_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "UPDOWN_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "UPDOWN_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "UPDOWN_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "UPDOWN_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "UPDOWN_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "UPDOWN_ARCHIVE_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
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

func setInt64Slice(dst *[]int64, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]int64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if n, err := strconv.ParseInt(p, 10, 64); err == nil {
				cleaned = append(cleaned, n)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
