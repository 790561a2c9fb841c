package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPTIONBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPTIONBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPTIONBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Tracker ──
	setFloat64(&cfg.Tracker.Goal1Percent, EnvPrefix+"TRACKER_GOAL_1_PERCENT")
	setFloat64(&cfg.Tracker.Goal2Percent, EnvPrefix+"TRACKER_GOAL_2_PERCENT")
	setFloat64(&cfg.Tracker.Goal3Percent, EnvPrefix+"TRACKER_GOAL_3_PERCENT")
	setFloat64(&cfg.Tracker.Goal4Percent, EnvPrefix+"TRACKER_GOAL_4_PERCENT")
	setFloat64(&cfg.Tracker.Goal5Percent, EnvPrefix+"TRACKER_GOAL_5_PERCENT")
	setFloat64(&cfg.Tracker.StopLossPercent, EnvPrefix+"TRACKER_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Tracker.PeakHysteresis, EnvPrefix+"TRACKER_PEAK_HYSTERESIS")
	setDuration(&cfg.Tracker.PollInterval, EnvPrefix+"TRACKER_POLL_INTERVAL")
	setDuration(&cfg.Tracker.QuoteTimeout, EnvPrefix+"TRACKER_QUOTE_TIMEOUT")
	setDuration(&cfg.Tracker.EvaluatorIdleWait, EnvPrefix+"TRACKER_EVALUATOR_IDLE_WAIT")

	// ── Market data ──
	setStr(&cfg.MarketData.BaseURL, EnvPrefix+"MARKETDATA_BASE_URL")
	setStr(&cfg.MarketData.Token, EnvPrefix+"MARKETDATA_TOKEN")
	setFloat64(&cfg.MarketData.RequestsPerSecond, EnvPrefix+"MARKETDATA_REQUESTS_PER_SECOND")
	setInt(&cfg.MarketData.Burst, EnvPrefix+"MARKETDATA_BURST")
	setDuration(&cfg.MarketData.HTTPTimeout, EnvPrefix+"MARKETDATA_HTTP_TIMEOUT")
	setInt(&cfg.MarketData.BreakerFailures, EnvPrefix+"MARKETDATA_BREAKER_FAILURES")
	setDuration(&cfg.MarketData.BreakerCooldown, EnvPrefix+"MARKETDATA_BREAKER_COOLDOWN")

	// ── Database ──
	setStr(&cfg.Database.Driver, EnvPrefix+"DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, EnvPrefix+"DATABASE_DSN")
	setStr(&cfg.Database.DSN, EnvPrefix+"DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, EnvPrefix+"DATABASE_HOST")
	setInt(&cfg.Database.Port, EnvPrefix+"DATABASE_PORT")
	setStr(&cfg.Database.Database, EnvPrefix+"DATABASE_DATABASE")
	setStr(&cfg.Database.User, EnvPrefix+"DATABASE_USER")
	setStr(&cfg.Database.Password, EnvPrefix+"DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, EnvPrefix+"DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, EnvPrefix+"DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, EnvPrefix+"DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, EnvPrefix+"DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, EnvPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, EnvPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, EnvPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, EnvPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, EnvPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, EnvPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, EnvPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, EnvPrefix+"REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.QuoteTTL, EnvPrefix+"REDIS_QUOTE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, EnvPrefix+"S3_ENABLED")
	setStr(&cfg.S3.Endpoint, EnvPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, EnvPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, EnvPrefix+"S3_BUCKET")
	setStr(&cfg.S3.AccessKey, EnvPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, EnvPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, EnvPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, EnvPrefix+"S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ArchiveCron, EnvPrefix+"S3_ARCHIVE_CRON")
	setInt(&cfg.S3.ArchiveRetentionDays, EnvPrefix+"S3_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, EnvPrefix+"SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, EnvPrefix+"SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.Username, EnvPrefix+"SERVER_USERNAME")
	setStr(&cfg.Server.PasswordHash, EnvPrefix+"SERVER_PASSWORD_HASH")
	setInt(&cfg.Server.RateLimit, EnvPrefix+"SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, EnvPrefix+"SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, EnvPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, EnvPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, EnvPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, EnvPrefix+"NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, EnvPrefix+"MODE")
	setStr(&cfg.LogLevel, EnvPrefix+"LOG_LEVEL")
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
