// Package config defines the top-level configuration for the option tracker
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPTIONBOT_* environment variables.
type Config struct {
	Tracker    TrackerConfig    `toml:"tracker"`
	MarketData MarketDataConfig `toml:"marketdata"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// TrackerConfig holds the exit rules, profit goals and loop timing.
type TrackerConfig struct {
	Goal1Percent    float64 `toml:"goal_1_percent"`
	Goal2Percent    float64 `toml:"goal_2_percent"`
	Goal3Percent    float64 `toml:"goal_3_percent"`
	Goal4Percent    float64 `toml:"goal_4_percent"`
	Goal5Percent    float64 `toml:"goal_5_percent"`
	StopLossPercent float64 `toml:"stop_loss_percent"`
	PeakHysteresis  float64 `toml:"peak_hysteresis"`

	PollInterval duration `toml:"poll_interval"`
	QuoteTimeout duration `toml:"quote_timeout"`
	// EvaluatorIdleWait is how long the milestone evaluator pauses after an
	// item fails on a store error.
	EvaluatorIdleWait duration `toml:"evaluator_idle_wait"`
}

// Tiers returns the goal percentages in order.
func (t TrackerConfig) Tiers() domain.Tiers {
	return domain.Tiers{t.Goal1Percent, t.Goal2Percent, t.Goal3Percent, t.Goal4Percent, t.Goal5Percent}
}

// ExitRules returns the stop-loss and peak parameters.
func (t TrackerConfig) ExitRules() domain.ExitRules {
	return domain.ExitRules{StopLossPercent: t.StopLossPercent, PeakHysteresis: t.PeakHysteresis}
}

// MarketDataConfig holds the option quote API parameters.
type MarketDataConfig struct {
	BaseURL           string   `toml:"base_url"`
	Token             string   `toml:"token"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	HTTPTimeout       duration `toml:"http_timeout"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerCooldown   duration `toml:"breaker_cooldown"`
}

// DatabaseConfig selects the ledger backend and holds PostgreSQL connection
// parameters.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory ledger is lost on exit.
	Driver        string `toml:"driver"`
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

// RedisConfig holds Redis connection parameters. Without Redis, events go
// straight to the in-process WebSocket hub and no quote cache or locks are
// used.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters for snapshots and
// history archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// ArchiveCron schedules the closed-position export (5-field cron, UTC).
	// Empty disables the scheduled export.
	ArchiveCron          string `toml:"archive_cron"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
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
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// Username enables basic auth; PasswordHash is its bcrypt hash.
	Username     string   `toml:"username"`
	PasswordHash string   `toml:"password_hash"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
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
		Tracker: TrackerConfig{
			Goal1Percent:      30,
			Goal2Percent:      60,
			Goal3Percent:      90,
			Goal4Percent:      120,
			Goal5Percent:      150,
			StopLossPercent:   50,
			PeakHysteresis:    0.10,
			PollInterval:      duration{time.Second},
			QuoteTimeout:      duration{5 * time.Second},
			EvaluatorIdleWait: duration{100 * time.Millisecond},
		},
		MarketData: MarketDataConfig{
			BaseURL:           "https://api.marketdata.app/v1",
			RequestsPerSecond: 10,
			Burst:             20,
			HTTPTimeout:       duration{10 * time.Second},
			BreakerFailures:   5,
			BreakerCooldown:   duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:        "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "optionbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "optionbot",
			QuoteTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "optionbot-snapshots",
			ForcePathStyle: true,

			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 30,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.NotifyPositionOpened,
				domain.NotifyStopLoss,
				domain.NotifyExpired,
				domain.NotifyManualClose,
				domain.NotifyMilestone,
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"track":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNotifyEvents = map[string]bool{
	domain.NotifyPositionOpened: true,
	domain.NotifyStopLoss:       true,
	domain.NotifyExpired:        true,
	domain.NotifyManualClose:    true,
	domain.NotifyMilestone:      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: track, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Tracker
	t := c.Tracker
	if err := t.Tiers().Validate(); err != nil {
		errs = append(errs, "tracker: "+err.Error())
	}
	if t.StopLossPercent <= 0 || t.StopLossPercent >= 100 {
		errs = append(errs, fmt.Sprintf("tracker: stop_loss_percent must be in (0, 100), got %g", t.StopLossPercent))
	}
	if t.PeakHysteresis < 0 {
		errs = append(errs, "tracker: peak_hysteresis must be >= 0")
	}
	if t.PollInterval.Duration <= 0 {
		errs = append(errs, "tracker: poll_interval must be > 0")
	}
	if t.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "tracker: quote_timeout must be > 0")
	} else if t.PollInterval.Duration > 0 && t.QuoteTimeout.Duration > 30*t.PollInterval.Duration {
		errs = append(errs, "tracker: quote_timeout must not exceed 30 poll intervals")
	}
	if t.EvaluatorIdleWait.Duration < 0 {
		errs = append(errs, "tracker: evaluator_idle_wait must be >= 0")
	}

	// Market data is only needed where quotes are fetched or positions opened.
	if c.MarketData.BaseURL == "" {
		errs = append(errs, "marketdata: base_url must not be empty")
	}
	if c.MarketData.RequestsPerSecond < 0 {
		errs = append(errs, "marketdata: requests_per_second must be >= 0")
	}
	if c.MarketData.BreakerFailures < 0 {
		errs = append(errs, "marketdata: breaker_failures must be >= 0")
	}

	// Database
	switch c.Database.Driver {
	case "memory":
		if c.Mode == "server" {
			errs = append(errs, "database: driver memory cannot be shared with a separate tracker; use postgres in server mode")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: postgres, memory)", c.Database.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.QuoteTTL.Duration <= 0 {
			errs = append(errs, "redis: quote_ttl must be > 0")
		}
	} else if c.Mode == "server" {
		errs = append(errs, "redis: must be enabled in server mode to receive tracker events")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveCron != "" && c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1 when archive_cron is set")
		}
	}

	// Server
	if c.Mode != "track" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.Username != "" && !strings.HasPrefix(c.Server.PasswordHash, "$2") {
			errs = append(errs, "server: password_hash must be a bcrypt hash when username is set")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validNotifyEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
