// Package config defines the top-level configuration for the up/down
// market bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by UPDOWN_* environment
// variables.
type Config struct {
	Market    MarketConfig    `toml:"market"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	PriceFeed PriceFeedConfig `toml:"price_feed"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// MarketConfig holds the market policy: which underlying, the fee taken
// from the total pool at settlement, and the period boundary.
type MarketConfig struct {
	Underlying string  `toml:"underlying"`
	Fee        float64 `toml:"fee"`
	// Zone is the IANA reference time zone for period resolution.
	Zone string `toml:"zone"`
	// Cutover is the "HH:MM" time-of-day boundary separating one period's
	// market from the next. Empty means midnight.
	Cutover string `toml:"cutover"`
	// StakePresets are the keyboard stake amounts offered in chat.
	StakePresets []float64 `toml:"stake_presets"`
}

// TelegramConfig holds the chat transport parameters.
type TelegramConfig struct {
	Token string `toml:"token"`
	// AdminIDs are the only users allowed to run resolve commands.
	AdminIDs []int64 `toml:"admin_ids"`
	// UpdateTimeout is the long-poll timeout in seconds.
	UpdateTimeout int `toml:"update_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	PoolSize    int    `toml:"pool_size"`
	MaxRetries  int    `toml:"max_retries"`
	TLSEnabled  bool   `toml:"tls_enabled"`
	PriceTTLSec int    `toml:"price_ttl_sec"`
}

// PriceFeedConfig holds the reference price source parameters.
type PriceFeedConfig struct {
	BaseURL   string   `toml:"base_url"`
	StreamURL string   `toml:"stream_url"`
	Quote     string   `toml:"quote"`
	Stream    bool     `toml:"stream"`
	Poll      duration `toml:"poll_interval"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
	// APIKey protects the read API when set; empty disables auth.
	APIKey string `toml:"api_key"`
	// MaintenanceSecret is the shared secret the scheduled trigger must
	// present to invoke a period roll.
	MaintenanceSecret string   `toml:"maintenance_secret"`
	CORSOrigins       []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP inside RateLimitWindow.
	// Zero disables rate limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds announcement channel parameters.
type NotifyConfig struct {
	// TelegramChatID is the channel receiving roll/settlement
	// announcements (distinct from the interactive bot chats).
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds the S3-compatible settlement archive parameters.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration wraps time.Duration for TOML decoding of strings like "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements TOML string decoding for durations.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration a TOML file is merged onto.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Underlying:   "BTC",
			Fee:          0.02,
			Zone:         "Europe/Rome",
			Cutover:      "15:30",
			StakePresets: []float64{1, 5, 10, 50},
		},
		Telegram: TelegramConfig{
			UpdateTimeout: 60,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PriceTTLSec: 30,
		},
		PriceFeed: PriceFeedConfig{
			Quote:  "USDT",
			Stream: true,
			Poll:   duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimitWindow: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Market.Underlying) == "" {
		problems = append(problems, "market.underlying is required")
	}
	if c.Market.Fee < 0 || c.Market.Fee >= 1 {
		problems = append(problems, fmt.Sprintf("market.fee %v out of range [0,1)", c.Market.Fee))
	}
	if strings.TrimSpace(c.Market.Zone) == "" {
		problems = append(problems, "market.zone is required")
	}
	for _, p := range c.Market.StakePresets {
		if p <= 0 {
			problems = append(problems, fmt.Sprintf("market.stake_presets contains non-positive amount %v", p))
		}
	}

	mode := strings.ToLower(c.Mode)
	if mode != "full" && mode != "api" && mode != "bot" {
		problems = append(problems, fmt.Sprintf("mode %q is not one of full, api, bot", c.Mode))
	}

	if (mode == "full" || mode == "bot") && strings.TrimSpace(c.Telegram.Token) == "" {
		problems = append(problems, "telegram.token is required in bot modes")
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.MaintenanceSecret) == "" {
		problems = append(problems, "server.maintenance_secret is required when the server is enabled")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port %d is invalid", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		problems = append(problems, fmt.Sprintf("server.rate_limit %d is negative", c.Server.RateLimit))
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			problems = append(problems, "archive.bucket is required when archiving is enabled")
		}
		if c.Archive.Region == "" {
			problems = append(problems, "archive.region is required when archiving is enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
