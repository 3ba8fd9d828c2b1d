package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewLoggerJSON(t *testing.T) {
	t.Setenv("ENV", "")

	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept", "link", 2)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, float64(2), record["link"])
	assert.Contains(t, record, "ts")
	assert.NotContains(t, record, "time")
}

func TestNewLoggerConsole(t *testing.T) {
	t.Setenv("ENV", "development")

	var buf bytes.Buffer
	logger := newLogger(&buf, "debug")
	logger.Debug("module ready", "port", 333)

	assert.Contains(t, buf.String(), "module ready")
	assert.Contains(t, buf.String(), "333")
}
