package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("NATS_ENABLED", "")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.NATS.Enabled)
}

func TestMonitorConfigMapsEveryThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
monitor:
  window_size: 50
  large_lobby_size: 8
  low_ack_rate: 0.4
  chronic_absences: 5
  session_failure_window_ms: 120000
  session_failure_count: 4
  min_samples: 10
  degraded_success_rate: 0.8
  unhealthy_success_rate: 0.3
`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	mc := cfg.monitorConfig()
	assert.Equal(t, 50, mc.WindowSize)
	assert.Equal(t, 8, mc.LargeLobbySize)
	assert.InDelta(t, 0.4, mc.LowAckRate, 0.001)
	assert.Equal(t, 5, mc.ChronicAbsences)
	assert.Equal(t, 2*time.Minute, mc.SessionFailureWindow)
	assert.Equal(t, 4, mc.SessionFailureCount)
	assert.Equal(t, 10, mc.MinSamples)
	assert.InDelta(t, 0.8, mc.DegradedSuccessRate, 0.001)
	assert.InDelta(t, 0.3, mc.UnhealthySuccessRate, 0.001)
}

func TestSyncConfigMapsTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
sync:
  ack_timeout_ms: 2500
  retry_delays_ms: [50, 100]
  default_countdown_seconds: 5
`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	sc := cfg.syncConfig()
	assert.Equal(t, 2500*time.Millisecond, sc.AckTimeout)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, sc.RetryDelays)
	assert.Equal(t, 5, cfg.defaultCountdown())
}
