// Package trace carries a correlation ID through a processing cycle so that
// every log line emitted for one burst of messages can be grouped.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceKey struct{}

// GenerateID returns a new random trace ID.
func GenerateID() string {
	return "t_" + uuid.NewString()
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns logger annotated with the trace ID from ctx, if any.
func Logger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := FromContext(ctx); id != "" {
		return logger.With("trace_id", id)
	}
	return logger
}
