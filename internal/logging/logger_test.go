package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text", false)

	logger.Debug("hidden debug")
	logger.Infof("hidden %s", "info")
	logger.Warnf("shown %d", 1)
	logger.Error("shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 1")
	assert.Contains(t, out, "shown error")
}

func TestJSONFormatWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json", false)

	logger.WithFields(map[string]interface{}{"table": "shop.orders", "k": 8}).
		WithError(errors.New("boom")).
		Info("retrieved")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "retrieved", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "shop.orders", entry["table"])
	assert.EqualValues(t, 8, entry["k"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(&buf, "info", "text", false)

	_ = parent.WithField("child", true)
	parent.Info("parent line")

	assert.NotContains(t, buf.String(), "child=true")
}

func TestWithErrorNil(t *testing.T) {
	logger := NewWithWriter(&bytes.Buffer{}, "info", "text", false)
	assert.Same(t, logger, logger.WithError(nil))
}

func TestRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text", false)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))

	logger.WithContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "request_id=req-42")
}

func TestNewLoggerFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "app.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "file",
		File:   logFile,
	})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNewLoggerErrors(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)

	_, err = NewLogger(config.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewWithWriter(&buf, "debug", "text", false))

	err := LoggerMiddleware(context.Background(), "reindex", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Operation completed successfully")

	buf.Reset()

	err = LoggerMiddleware(context.Background(), "reindex", func(context.Context) error {
		return errors.New("disk full")
	})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "Operation failed")
	assert.True(t, strings.Contains(out, "disk full"))
}
