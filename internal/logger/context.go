package logger

import (
	"context"
	"log/slog"
)

// contextKey is unexported so no other package can collide with or overwrite
// the logger stored in a context.
type contextKey struct{}

// WithContext returns a child context carrying the provided logger. HTTP
// middleware uses it to attach a request-scoped logger with the request id.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from the context. It never returns nil:
// when the context carries no logger it falls back to slog.Default, so
// callers can log unconditionally.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
