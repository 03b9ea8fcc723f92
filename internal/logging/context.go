package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	runIDKey
)

// WithLogger scopes logger to ctx. A nil logger leaves ctx unchanged.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger scoped to ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, _ := ctx.Value(loggerKey).(*slog.Logger); logger != nil {
			return logger
		}
	}
	return slog.Default()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

// RunIDFromContext returns the id of the sync run executing under ctx.
func RunIDFromContext(ctx context.Context) string { return stringValue(ctx, runIDKey) }

// WithJob marks ctx as running job for channelID. Every line logged through
// FromContext afterwards carries both ids.
func WithJob(ctx context.Context, jobID, channelID string) context.Context {
	logger := FromContext(ctx).With(
		slog.String("job_id", jobID),
		slog.String("channel_id", channelID),
	)
	return WithLogger(context.WithValue(ctx, runIDKey, jobID), logger)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
