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

	t.Run("Should return the injected logger instance when present", func(t *testing.T) {
		requestLogger := slog.New(slog.NewJSONHandler(io.Discard, nil)).
			With(slog.String("request_id", "req-1"))

		ctx := WithContext(context.Background(), requestLogger)

		assert.Same(t, requestLogger, FromContext(ctx))
	})

	t.Run("Should return the global default logger when context is empty", func(t *testing.T) {
		got := FromContext(context.Background())

		assert.Same(t, slog.Default(), got)
	})
}
