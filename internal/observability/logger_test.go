package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggerConfig{Level: "warn", Service: "agentd"}, zapcore.AddSync(&buf))

	logger.Info("hidden")
	logger.Warn("shown", zap.String("phase", "executing"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"logger":"agentd"`)
	assert.Contains(t, out, `"phase":"executing"`)
}

func TestLoggerBadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggerConfig{Level: "loud"}, zapcore.AddSync(&buf))
	logger.Debug("debug line")
	logger.Info("info line")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.log")
	var buf bytes.Buffer
	logger := newLogger(LoggerConfig{Level: "info", Format: "console", File: path}, zapcore.AddSync(&buf))
	logger.Info("cycle finished")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"))
	assert.Contains(t, string(data), "cycle finished")
	assert.Contains(t, buf.String(), "cycle finished")
}
