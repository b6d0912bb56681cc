package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}

	return entries
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(999).String())
}

func TestNewLoggerOutputs(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, logger.output)
	assert.Equal(t, InfoLevel, logger.level)

	logger, err = NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, logger.output)
	assert.Equal(t, "json", logger.format)

	_, err = NewLogger(config.LoggingConfig{Output: "file"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file path is required")

	_, err = NewLogger(config.LoggingConfig{Output: "syslog"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log output")
}

func TestNewLoggerFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: "file", File: logFile})
	require.NoError(t, err)

	logger.Info("refresh finished")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "refresh finished")
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "json", InfoLevel)
	logger.WithField("table", "orders").
		WithFields(map[string]any{"attempt": 2, "accepted": true}).
		Info("validated")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "validated", entries[0]["msg"])
	assert.Equal(t, "orders", entries[0]["table"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
	assert.Equal(t, true, entries[0]["accepted"])
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "json", InfoLevel)
	assert.Same(t, logger, logger.WithError(nil))

	logger.WithError(assert.AnError).Warn("embedding failed")
	logger.ErrorWithErr("generation failed", assert.AnError)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, assert.AnError.Error(), entries[0]["error"])
	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, assert.AnError.Error(), entries[1]["error"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWriterLogger(&buf, "json", WarnLevel)
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warnf("warn %d", 1)
	logger.Errorf("error %d", 2)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "warn 1", entries[0]["msg"])
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer

	NewWriterLogger(&buf, "text", InfoLevel).WithField("key", "value").Info("test message")

	output := buf.String()
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, `msg="test message"`)
	assert.Contains(t, output, "key=value")
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer

	previous := SetLogger(NewWriterLogger(&buf, "json", InfoLevel))
	defer SetLogger(previous)

	Info("info message")
	Warnf("warn %s", "message")
	WithField("k", "v").Error("error message")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)

	for i, expectedLevel := range []string{"INFO", "WARN", "ERROR"} {
		assert.Equal(t, expectedLevel, entries[i]["level"])
	}

	assert.Equal(t, "v", entries[2]["k"])
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer

	previous := SetLogger(NewWriterLogger(&buf, "json", DebugLevel))
	defer SetLogger(previous)

	require.NoError(t, LoggerMiddleware("index_refresh", func() error { return nil }))
	assert.Equal(t, assert.AnError, LoggerMiddleware("index_refresh", func() error { return assert.AnError }))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 4)
	assert.Equal(t, "index_refresh", entries[0]["operation"])
	assert.Equal(t, "Operation completed successfully", entries[1]["msg"])
	assert.Contains(t, entries[1], "duration")
	assert.Equal(t, "ERROR", entries[3]["level"])
	assert.Equal(t, assert.AnError.Error(), entries[3]["error"])
}

func TestInitializeLoggerReplacesGlobal(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	previous := SetLogger(nil)
	defer SetLogger(previous)

	require.NoError(t, InitializeLogger(config.LoggingConfig{Level: "info", Format: "json", Output: "file", File: logFile}))
	Info("hello")
	require.NoError(t, GetLogger().Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"hello"`)
}
