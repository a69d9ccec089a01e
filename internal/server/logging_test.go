package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/valkrau/shardmap/internal/config"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "shouty"})
	require.Error(t, err)
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := NewLogger(config.LogConfig{
		Level:     "info",
		File:      path,
		MaxSizeMB: 8,
	})
	require.NoError(t, err)

	log.Info("listener ready")
	log.Debug("suppressed at info level")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "listener ready")
	assert.NotContains(t, string(data), "suppressed")
}

func TestNewLoggerStderr(t *testing.T) {
	log, err := NewLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
