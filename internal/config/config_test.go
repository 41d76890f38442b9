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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/broadcast
auth:
  jwt_secret: s3cret
provider:
  base_url: http://provider.local
broadcast:
  min_interval_ms: 1500
  retries: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Broadcast.MaxConcurrent)
	assert.Equal(t, 1500, cfg.Broadcast.MinIntervalMs)
	assert.Equal(t, 2, cfg.Broadcast.Retries)
	assert.Equal(t, 24*time.Hour, cfg.Progress.TTL)
	assert.Equal(t, 50, cfg.Progress.MaxErrors)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigRejectsMissingFields(t *testing.T) {
	path := writeConfig(t, `
broadcast:
  min_interval_ms: -1
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
	assert.Contains(t, err.Error(), "auth.jwt_secret")
	assert.Contains(t, err.Error(), "min_interval_ms")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
