package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/frostwerk/icemanctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetArgs(t *testing.T) {
	t.Helper()
	oldArgs := os.Args
	os.Args = []string{"icemanctl"}
	t.Cleanup(func() { os.Args = oldArgs })
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "icemanctl.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return configPath
}

func TestLoad(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
interval = 5
sample_interval = 7
flush_interval = 20
hot_entry = 27.5
hot_exit = 22.0
queue_capacity = 128
batch_size = 32
influx_url = "https://metrics.example.net/api/v1/push/influx/write"
influx_username = "313370"
influx_password = "glc_secret"
location = "garage"
log_level = "debug"
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Interval)
	assert.Equal(t, 7, cfg.SampleInterval)
	assert.Equal(t, 20, cfg.FlushInterval)
	assert.InDelta(t, 27.5, cfg.HotEntry, 0.001)
	assert.InDelta(t, 22.0, cfg.HotExit, 0.001)
	assert.Equal(t, 128, cfg.QueueCapacity)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, "https://metrics.example.net/api/v1/push/influx/write", cfg.InfluxURL)
	assert.Equal(t, "garage", cfg.Location)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	resetArgs(t)
	// Telemetry needs a URL; everything else should default.
	configPath := writeConfig(t, `
influx_url = "http://localhost:8086/write"
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Interval, "Expected default Interval 2")
	assert.Equal(t, 5, cfg.SampleInterval, "Expected default SampleInterval 5")
	assert.Equal(t, 10, cfg.FlushInterval, "Expected default FlushInterval 10")
	assert.InDelta(t, 10.0, cfg.NormalEntry, 0.001)
	assert.InDelta(t, 5.0, cfg.NormalExit, 0.001)
	assert.InDelta(t, 35.0, cfg.CriticalEntry, 0.001)
	assert.Equal(t, 100, cfg.CriticalDuty)
	assert.Equal(t, 18, cfg.PWMPin)
	assert.Equal(t, 17, cfg.TachPin)
	assert.Equal(t, 2, cfg.PulsesPerRev)
	assert.Equal(t, 256, cfg.QueueCapacity)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.True(t, cfg.Telemetry)
}

func TestTelemetryDisabledNeedsNoURL(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
telemetry = false
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.Telemetry)
	assert.Empty(t, cfg.InfluxURL)
}

func TestMissingURLWithTelemetryEnabled(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
telemetry = true
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx_url")
}

func TestInvalidLogLevel(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
telemetry = false
log_level = "loud"
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestCollapsedHysteresisRejected(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
telemetry = false
hot_entry = 25.0
hot_exit = 25.0
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
}

func TestInvalidIntervalRejected(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
telemetry = false
interval = 0
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
}

func TestLogLevelFlag(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"icemanctl", "--log-level", "debug", "--interval", "3"}

	configPath := writeConfig(t, `
telemetry = false
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, 3, cfg.Interval, "Expected Interval to be set by flag")
}

func TestEnvironmentOverride(t *testing.T) {
	resetArgs(t)
	configPath := writeConfig(t, `
telemetry = false
interval = 5
`)
	t.Setenv("ICEMANCTL_CONFIG", configPath)
	t.Setenv("ICEMAN_INTERVAL", "9")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Interval, "Expected environment to override the file")
}