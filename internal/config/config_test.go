package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  dry_run: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sentinel-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 60.0, cfg.Watcher.EmergencyDropPct)
	assert.Equal(t, 75.0, cfg.Risk.ExecuteThreshold)
	assert.Equal(t, 3, cfg.Engine.MaxPositions)
	assert.Equal(t, 9090, cfg.Metrics.PrometheusPort)
	assert.Equal(t, "https://quote-api.jup.ag/v6", cfg.Router.Jupiter.BaseURL)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: sentinel-prod-2
  dry_run: true
  log_level: debug
watcher:
  poll_interval: 5s
  emergency_drop_pct: 70
  warning_drop_pct: 40
engine:
  max_positions: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sentinel-prod-2", cfg.General.InstanceID)
	assert.Equal(t, 5*time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 70.0, cfg.Watcher.EmergencyDropPct)
	assert.Equal(t, 8, cfg.Engine.MaxPositions)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_MARKET_KEY", "secret-api-key")
	path := writeConfig(t, `
general:
  dry_run: true
market:
  api_key: ${TEST_MARKET_KEY}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-api-key", cfg.Market.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	path := writeConfig(t, `
general:
  dry_run: true
risk:
  execute_threshold: 50
  tiebreaker_threshold: 60
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "execute_threshold")
}

func TestValidate_DropPctOrdering(t *testing.T) {
	path := writeConfig(t, `
general:
  dry_run: true
watcher:
  emergency_drop_pct: 20
  warning_drop_pct: 30
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "emergency_drop_pct")
}

func TestValidate_LiveModeNeedsPrivateKey(t *testing.T) {
	path := writeConfig(t, `
general:
  dry_run: false
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "private_key")
}
