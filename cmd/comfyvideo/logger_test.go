package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(tt.level, "text", &bytes.Buffer{})
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(ctx, tt.want-4) {
				t.Errorf("level %s should be disabled", tt.want-4)
			}
		})
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger("info", "json", &buf).Info("hello", "job_id", "abc")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "abc", record["job_id"])

	buf.Reset()
	newLogger("info", "text", &buf).Info("hello", "job_id", "abc")
	assert.True(t, strings.Contains(buf.String(), "msg=hello job_id=abc"), buf.String())
}
