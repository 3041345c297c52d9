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
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := writeConfig(t, "app:\n  user_id: p1\n")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "safewatch", cfg.App.Name)
	assert.Equal(t, "p1", cfg.App.UserID)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, []string{"nats://127.0.0.1:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.Monitor.LocationInterval)
	assert.Equal(t, 3*time.Second, cfg.Monitor.LocationMinInterval)
	assert.Equal(t, 60*time.Millisecond, cfg.Monitor.MotionSamplingPeriod)
	assert.Equal(t, 90*24*time.Hour, cfg.Storage.AlertRetention)
	assert.Equal(t, ":9102", cfg.Metrics.Address)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
app:
  user_id: p1
  timezone: UTC
storage:
  driver: firestore
firebase:
  project_id: safewatch-test
monitor:
  heartbeat_interval: 10s
nats:
  urls:
    - nats://broker:4222
`)
	t.Setenv("SAFEWATCH_APP_USER_ID", "p2")
	t.Setenv("SAFEWATCH_MONITOR_INBOX_SIZE", "128")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "p2", cfg.App.UserID)
	assert.Equal(t, DriverFirestore, cfg.Storage.Driver)
	assert.Equal(t, "safewatch-test", cfg.Firebase.ProjectID)
	assert.Equal(t, 10*time.Second, cfg.Monitor.HeartbeatInterval)
	assert.Equal(t, 128, cfg.Monitor.InboxSize)
	assert.Equal(t, []string{"nats://broker:4222"}, cfg.NATS.URLs)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("SAFEWATCH_APP_USER_ID", "p1")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "p1", cfg.App.UserID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing user", "app:\n  name: x\n"},
		{"unknown driver", "app:\n  user_id: p1\nstorage:\n  driver: mongo\n"},
		{"firestore without project", "app:\n  user_id: p1\nstorage:\n  driver: firestore\n"},
		{"malformed yaml", "app: [\n"},
		{"zero heartbeat", "app:\n  user_id: p1\nmonitor:\n  heartbeat_interval: 0s\n"},
		{"negative heartbeat", "app:\n  user_id: p1\nmonitor:\n  heartbeat_interval: -5s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Location(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.App.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	assert.Error(t, err)
}
