package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "treesnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeFile(t, `
log_level: debug
bridge:
  url: ws://device:8097
  call_timeout: 250ms
export:
  max_in_flight: 8
store:
  driver: redis
  redis_prefix: app
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ws://device:8097", cfg.Bridge.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Bridge.CallTimeout)
	assert.Equal(t, int64(8), cfg.Export.MaxInFlight)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "app", cfg.Store.RedisPrefix)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Export.Timeout, cfg.Export.Timeout)
	assert.Equal(t, Default().Store.RedisAddr, cfg.Store.RedisAddr)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "bridge:\n  urll: ws://typo\n"))
	assert.ErrorContains(t, err, "urll")
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	_, err := Load(writeFile(t, "export:\n  timeout: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverFixture
	assert.ErrorContains(t, cfg.Validate(), "store.fixture")

	cfg.Store.Fixture = "tree.yaml"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = "etcd"
	assert.ErrorContains(t, cfg.Validate(), "etcd")
}

func TestExportLimits(t *testing.T) {
	cfg := Default()
	limits := cfg.ExportLimits()
	assert.Equal(t, cfg.Export.Timeout, limits.Timeout)
	assert.Equal(t, cfg.Export.MaxInFlight, limits.Resolve.MaxInFlight)
	assert.Equal(t, cfg.Bridge.CallTimeout, limits.Resolve.CallTimeout)
}
