// Package logger builds the slog loggers used by every Norn binary.
// All three services (control plane, data plane, syncer) log through the
// same factory so that level, format, and the service identity attributes
// are controlled by configuration instead of per-binary setup code.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/nornlabs/norn/internal/config"
)

// New returns a logger configured from the application config, writing to
// stdout. Every line carries the service name, version, and environment so
// aggregated logs from a mixed Norn deployment stay attributable.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit output writer. Tests use it to
// capture output; production code should use New.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	base := slog.New(newHandler(cfg, w))

	return base.With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// newHandler picks the slog handler for the configured format. Anything
// other than an explicit "text" produces JSON: machine-readable output is
// the safer default when the config is wrong or missing.
func newHandler(cfg *config.AppConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// Source locations help during development; in production the
		// runtime.Caller cost on every line is not worth it.
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	if cfg.LogFormat == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps the configured level string onto slog.Level, accepting
// any casing. Unknown levels fall back to Info rather than erroring: a
// typo in LOG_LEVEL must not keep a service from booting.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
