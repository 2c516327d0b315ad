package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "betbot.toml", `
[general]
db_path = "/tmp/test.db"
live_mode = true

[schedule]
reconcile_interval = "30s"

[strategy]
enabled = ["B12S1"]
live = ["B12S1"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.General.DBPath)
	assert.True(t, cfg.General.LiveMode)
	assert.Equal(t, 30*time.Second, cfg.Schedule.ReconcileInterval.Duration)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.SessionRenew.Duration)
	assert.Equal(t, []string{"B12S1"}, cfg.Strategy.Enabled)
	assert.True(t, cfg.Strategy.IsLive("B12S1"))
	assert.False(t, cfg.Strategy.IsLive("BMS1"))
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "betbot.yaml", `
tracker:
  mode: indicative
  trigger: 90s
execution:
  limit_attempts: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "indicative", cfg.Tracker.Mode)
	assert.Equal(t, 90*time.Second, cfg.Tracker.Trigger.Duration)
	assert.Equal(t, 3, cfg.Execution.LimitAttempts)
}

func TestLoad_EnvironmentSecrets(t *testing.T) {
	t.Setenv("BETBOT_USERNAME", "alice")
	t.Setenv("BETBOT_APP_KEY", "key-1")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(writeFile(t, "betbot.toml", ""))
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Exchange.Username)
	assert.Equal(t, "key-1", cfg.Exchange.AppKey)
	assert.Equal(t, "redis://localhost:6379/0", cfg.General.RedisURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate_SessionRenewWindow(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Schedule.SessionRenew = Duration{25 * time.Minute}
	assert.Error(t, cfg.Validate())

	cfg.Schedule.SessionRenew = Duration{5 * time.Minute}
	assert.Error(t, cfg.Validate())
}

func TestValidate_TriggerMustLeadPlayWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracker.Trigger = Duration{30 * time.Second}
	assert.Error(t, cfg.Validate())
}
