package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTemp(t, `
addr: ":7000"
pprof_addr: ":7001"
gc_percent: 200
store:
  shards: 64
  capacity: 100000
  janitor_interval: 250ms
  janitor_scan_limit: 512
log:
  level: debug
  file: /tmp/server.log
  max_size_mb: 64
  compress: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, ":7001", cfg.PprofAddr)
	assert.Equal(t, 200, cfg.GCPercent)
	assert.Equal(t, 64, cfg.Store.Shards)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.JanitorInterval.Std())
	assert.Equal(t, 512, cfg.Store.JanitorScanLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/server.log", cfg.Log.File)
	assert.True(t, cfg.Log.Compress)

	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Log.MaxBackups)
	assert.True(t, cfg.Multicore)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := writeTemp(t, "addr: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	path := writeTemp(t, "store:\n  janitor_interval: fast\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "invalid duration")
}

func TestValidateCollectsEverything(t *testing.T) {
	cfg := Default()
	cfg.Addr = ""
	cfg.GCPercent = -5
	cfg.Store.Shards = 12
	cfg.Log.Level = "noisy"

	err := cfg.Validate()
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 4, "every problem must be reported at once")
	assert.ErrorContains(t, err, "addr")
	assert.ErrorContains(t, err, "power of two")
	assert.ErrorContains(t, err, "noisy")
}

func TestValidateRejectsNegativeSizes(t *testing.T) {
	cfg := Default()
	cfg.Store.Capacity = -1
	cfg.Store.JanitorInterval = Duration(-time.Second)
	cfg.Log.MaxSizeMB = -2

	err := cfg.Validate()
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 3)
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	out, err := Duration(90 * time.Second).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
