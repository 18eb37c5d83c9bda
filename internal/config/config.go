// Package config defines the top-level configuration for the screener and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/symbol"
)

// Run modes.
const (
	ModeStandalone = "standalone"
	ModeFull       = "full"
	ModeArchive    = "archive"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBSCREENER_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Engine   EngineConfig   `toml:"engine"`
	Symbols  SymbolsConfig  `toml:"symbols"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// EngineConfig holds recomputation tunables. Floors are percentages; zero
// means any positive diff qualifies.
type EngineConfig struct {
	RecomputeInterval    duration `toml:"recompute_interval"`
	Freshness            duration `toml:"freshness"`
	Retention            duration `toml:"retention"`
	SpotFloorPercent     float64  `toml:"spot_floor_percent"`
	FuturesFloorPercent  float64  `toml:"futures_floor_percent"`
	OppositeFloorPercent float64  `toml:"opposite_floor_percent"`
	// PublishMaxRows bounds each live book update; zero publishes every
	// active opportunity.
	PublishMaxRows int `toml:"publish_max_rows"`
}

// Floors returns the qualification floor of every book.
func (e EngineConfig) Floors() map[domain.Book]decimal.Decimal {
	return map[domain.Book]decimal.Decimal{
		domain.BookSpot:            decimal.NewFromFloat(e.SpotFloorPercent),
		domain.BookFutures:         decimal.NewFromFloat(e.FuturesFloorPercent),
		domain.BookFuturesOpposite: decimal.NewFromFloat(e.OppositeFloorPercent),
	}
}

// SymbolsConfig holds per-exchange normalization rules layered over the
// built-in defaults.
type SymbolsConfig struct {
	Rules []symbol.RuleConfig `toml:"rules"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	DialTimeout  duration `toml:"dial_timeout"`
	QuoteChannel string   `toml:"quote_channel"`
	QuoteTTL     duration `toml:"quote_ttl"`
	// WarmStart loads mirrored quotes back into the engine on startup.
	WarmStart bool `toml:"warm_start"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// S3Config holds object-storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving history to cold storage.
type ArchiveConfig struct {
	Enabled              bool     `toml:"enabled"`
	RetentionDays        int      `toml:"retention_days"`
	Cron                 string   `toml:"cron"`
	LockTTL              duration `toml:"lock_ttl"`
	MultipartThresholdMB int      `toml:"multipart_threshold_mb"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	AlertMinPercent   float64  `toml:"alert_min_percent"`
	MaxPerMinute      int      `toml:"max_per_minute"`
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

// Defaults returns a Config populated with sensible defaults for every field.
func Defaults() Config {
	return Config{
		Mode:     ModeStandalone,
		LogLevel: "info",
		Engine: EngineConfig{
			RecomputeInterval: duration{2 * time.Second},
			Freshness:         duration{30 * time.Second},
			Retention:         duration{10 * time.Minute},
			PublishMaxRows:    200,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			DialTimeout:  duration{5 * time.Second},
			QuoteChannel: "quotes",
			QuoteTTL:     duration{5 * time.Minute},
			WarmStart:    true,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "arbscreener",
			User:           "arbscreener",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   1,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:              true,
			RetentionDays:        30,
			Cron:                 "0 3 * * *",
			LockTTL:              duration{30 * time.Minute},
			MultipartThresholdMB: 64,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       600,
			RateLimitWindow: duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events:          []string{"opportunity.opened"},
			AlertMinPercent: 1.0,
			MaxPerMinute:    20,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeStandalone: true,
	ModeFull:       true,
	ModeArchive:    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the mode persists history.
func (c *Config) NeedsPostgres() bool {
	return c.Mode == ModeFull || c.Mode == ModeArchive
}

// NeedsS3 reports whether the mode uploads archives.
func (c *Config) NeedsS3() bool {
	return c.Mode == ModeArchive || (c.Mode == ModeFull && c.Archive.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: standalone, full, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.RecomputeInterval.Duration <= 0 {
		errs = append(errs, "engine: recompute_interval must be > 0")
	}
	if c.Engine.Freshness.Duration <= 0 {
		errs = append(errs, "engine: freshness must be > 0")
	}
	if c.Engine.Retention.Duration < 0 {
		errs = append(errs, "engine: retention must not be negative")
	}
	for name, v := range map[string]float64{
		"spot_floor_percent":     c.Engine.SpotFloorPercent,
		"futures_floor_percent":  c.Engine.FuturesFloorPercent,
		"opposite_floor_percent": c.Engine.OppositeFloorPercent,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("engine: %s must not be negative", name))
		}
	}
	if c.Engine.PublishMaxRows < 0 {
		errs = append(errs, "engine: publish_max_rows must be >= 0")
	}

	// Symbols
	for i, r := range c.Symbols.Rules {
		if _, err := r.Build(); err != nil {
			errs = append(errs, fmt.Sprintf("symbols: rule %d: %v", i, err))
		}
	}

	// Redis
	if c.Mode == ModeFull {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.QuoteChannel == "" {
			errs = append(errs, "redis: quote_channel must not be empty")
		}
	}

	// Postgres
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3 and archive
	if c.NeedsS3() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if c.Server.Enabled && c.Mode != ModeArchive {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.AlertMinPercent < 0 {
		errs = append(errs, "notify: alert_min_percent must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
