package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	attemptIDKey ctxKey = "attempt_id"
	requestIDKey ctxKey = "request_id"
)

// ContextWithAttemptID stores the booking attempt ID in the context.
func ContextWithAttemptID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, attemptIDKey, id)
}

// ContextWithRequestID stores the provided HTTP request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// AttemptIDFromContext extracts the attempt ID from context if present.
func AttemptIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(attemptIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if aid := AttemptIDFromContext(ctx); aid != "" {
		builder = builder.Str("attempt_id", aid)
		added = true
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		builder = builder.Str("request_id", rid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a component logger enriched with the
// correlation fields stored in ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
