package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  business_path: "suite.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9091", cfg.Server.MetricsAddr)
	assert.Equal(t, 5.0, cfg.Server.PollRatePerSec)
	assert.Equal(t, 10, cfg.Server.PollBurst)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.ArtifactTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.RecordRetention)
	assert.Equal(t, 3*time.Hour, cfg.Retention.ReapInterval)
	assert.Equal(t, 2, cfg.Worker.Count)
	assert.Equal(t, 15*time.Second, cfg.Worker.HeartbeatInterval)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
database:
  business_path: "suite.db"
  busy_timeout: 2s
worker:
  module_timeout: 90s
retention:
  artifact_ttl: 48h
  liveness_timeout: 10m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, 90*time.Second, cfg.Worker.ModuleTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Retention.ArtifactTTL)
	assert.Equal(t, 10*time.Minute, cfg.Retention.LivenessTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EXPORTD_ADDR", ":9999")
	t.Setenv("EXPORTD_BUSINESS_DB_PATH", "/data/suite.db")

	path := writeConfig(t, `
server:
  addr: ":8080"
database:
  business_path: "suite.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "/data/suite.db", cfg.Database.BusinessPath)
}

func TestLoadRejectsMissingBusinessPath(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business_path")
}

func TestLoadRejectsLivenessBelowHeartbeat(t *testing.T) {
	path := writeConfig(t, `
database:
  business_path: "suite.db"
worker:
  heartbeat_interval: 1m
retention:
  liveness_timeout: 30s
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liveness_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
