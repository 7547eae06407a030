package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nornlabs/norn/internal/config"
)

func appConfig(level, format, env string) *config.AppConfig {
	return &config.AppConfig{
		Name:        "norn-control",
		Version:     "1.4.0",
		Environment: env,
		LogLevel:    level,
		LogFormat:   format,
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("Should stamp every line with the service identity", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("info", "json", "development"), &buf)

		log.Info("feature archived", slog.String("feature_id", "checkout-redesign"))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "norn-control", line["service"])
		assert.Equal(t, "1.4.0", line["version"])
		assert.Equal(t, "development", line["env"])
		assert.Equal(t, "feature archived", line["msg"])
		assert.Equal(t, "checkout-redesign", line["feature_id"])
	})

	t.Run("Should suppress levels below the configured threshold", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("warn", "json", "development"), &buf)

		log.Info("snapshot refreshed")
		assert.Zero(t, buf.Len())

		log.Warn("snapshot refresh failed")
		assert.Contains(t, buf.String(), "snapshot refresh failed")
	})

	t.Run("Should emit human-readable output in text format", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("info", "text", "development"), &buf)

		log.Info("sync cycle completed")

		line := buf.String()
		assert.True(t, strings.HasPrefix(line, "time="), "text handler output should be key=value")
		assert.Contains(t, line, "msg=\"sync cycle completed\"")
	})

	t.Run("Should fall back to JSON for an unknown format", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(appConfig("info", "logfmt", "development"), &buf)

		log.Info("sync cycle completed")

		var line map[string]any
		assert.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	})

	t.Run("Should include source locations outside production only", func(t *testing.T) {
		var dev bytes.Buffer
		NewWithWriter(appConfig("info", "json", "development"), &dev).Info("hello")
		assert.Contains(t, dev.String(), "\"source\"")

		var prod bytes.Buffer
		NewWithWriter(appConfig("info", "json", config.EnvironmentProduction), &prod).Info("hello")
		assert.NotContains(t, prod.String(), "\"source\"")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		assert.Panics(t, func() {
			NewWithWriter(nil, &bytes.Buffer{})
		})
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{name: "Should parse debug", input: "debug", want: slog.LevelDebug},
		{name: "Should parse mixed case", input: "WaRn", want: slog.LevelWarn},
		{name: "Should parse error", input: "ERROR", want: slog.LevelError},
		{name: "Should fall back to info on unknown level", input: "verbose", want: slog.LevelInfo},
		{name: "Should fall back to info on empty input", input: "", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}
