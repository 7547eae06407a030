package logger

import (
	"context"
	"log/slog"
)

// ctxKey keeps the logger entry private to this package; an empty struct
// key cannot collide with keys from other packages.
type ctxKey struct{}

// WithContext stores the logger in the context. The HTTP middleware uses
// this to hand each handler a request-scoped logger carrying the request id.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in the context, or slog.Default()
// when none was stored. Callers can always log through the result without
// a nil check, which matters in handlers reached outside the middleware
// stack (unit tests, background goroutines).
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
