package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("Should round-trip the stored logger", func(t *testing.T) {
		stored := slog.New(slog.NewJSONHandler(io.Discard, nil))

		ctx := WithContext(context.Background(), stored)

		// Pointer identity: FromContext must hand back the exact instance,
		// attributes included, not a copy or a rebuilt logger.
		assert.Same(t, stored, FromContext(ctx))
	})

	t.Run("Should fall back to the process default on a bare context", func(t *testing.T) {
		got := FromContext(context.Background())

		assert.Same(t, slog.Default(), got)
	})

	t.Run("Should shadow an outer logger with the innermost one", func(t *testing.T) {
		outer := slog.New(slog.NewJSONHandler(io.Discard, nil))
		inner := outer.With(slog.String("request_id", "req-1"))

		ctx := WithContext(context.Background(), outer)
		ctx = WithContext(ctx, inner)

		assert.Same(t, inner, FromContext(ctx))
	})
}
