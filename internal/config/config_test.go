package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, domain.DefaultTiers, cfg.Tracker.Tiers())
	assert.Equal(t, domain.ExitRules{StopLossPercent: 50, PeakHysteresis: 0.10}, cfg.Tracker.ExitRules())
	assert.Equal(t, time.Second, cfg.Tracker.PollInterval.Duration)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "track"

[tracker]
goal_1_percent = 20
stop_loss_percent = 40
poll_interval = "2s"

[database]
driver = "memory"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "track", cfg.Mode)
	assert.Equal(t, 20.0, cfg.Tracker.Goal1Percent)
	assert.Equal(t, 60.0, cfg.Tracker.Goal2Percent, "unset keys keep defaults")
	assert.Equal(t, 40.0, cfg.Tracker.StopLossPercent)
	assert.Equal(t, 2*time.Second, cfg.Tracker.PollInterval.Duration)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[tracker]
stop_los_percent = 40
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracker.stop_los_percent")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPTIONBOT_TRACKER_PEAK_HYSTERESIS", "0.25")
	t.Setenv("OPTIONBOT_TRACKER_QUOTE_TIMEOUT", "3s")
	t.Setenv("OPTIONBOT_MARKETDATA_TOKEN", "tok")
	t.Setenv("OPTIONBOT_NOTIFY_EVENTS", "stop_loss, milestone")
	t.Setenv("OPTIONBOT_DATABASE_URL", "postgres://u:p@db:5432/x")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Tracker.PeakHysteresis)
	assert.Equal(t, 3*time.Second, cfg.Tracker.QuoteTimeout.Duration)
	assert.Equal(t, "tok", cfg.MarketData.Token)
	assert.Equal(t, []string{"stop_loss", "milestone"}, cfg.Notify.Events)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.Database.DSN)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Tracker.Goal3Percent = 50
	cfg.Tracker.StopLossPercent = 100
	cfg.Tracker.PollInterval.Duration = 0
	cfg.Database.Driver = "sqlite"
	cfg.Notify.TelegramToken = "t"
	cfg.Notify.Events = []string{"order_filled"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"tracker: goal 3",
		"stop_loss_percent",
		"poll_interval",
		`unknown driver "sqlite"`,
		"telegram_chat_id",
		`unknown event "order_filled"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateServerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Database.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.Server.Username = "ops"
	cfg.Server.PasswordHash = "plaintext"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver memory")
	assert.Contains(t, err.Error(), "redis: must be enabled")
	assert.Contains(t, err.Error(), "bcrypt")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.MarketData.Token = "secret-token"
	cfg.Database.Password = "pw"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.MarketData.Token)
	assert.Equal(t, "***", out.Database.Password)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, domain.NotifyPositionOpened, cfg.Notify.Events[0])
	assert.Equal(t, "secret-token", cfg.MarketData.Token)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def := Defaults()
	assert.Equal(t, def.Tracker, cfg.Tracker)
	assert.Equal(t, def.S3.ArchiveCron, cfg.S3.ArchiveCron)
	assert.Equal(t, def.Notify.Events, cfg.Notify.Events)
}

func TestValidateArchiveRetention(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = true
	cfg.S3.ArchiveRetentionDays = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive_retention_days")

	cfg.S3.ArchiveCron = ""
	assert.NoError(t, cfg.Validate())
}
