package vmstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with vmstore-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// WithDatabase adds a database field to the logger.
func (l *Logger) WithDatabase(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("database", name),
	}
}

// LogConnect logs the outcome of a connect attempt.
func (l *Logger) LogConnect(ctx context.Context, endpoints int, clustered bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "connect failed",
			"endpoints", endpoints,
			"clustered", clustered,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "connected",
			"endpoints", endpoints,
			"clustered", clustered,
		)
	}
}

// LogDisconnect logs a closed link. cause is nil for a requested close.
func (l *Logger) LogDisconnect(ctx context.Context, cause error) {
	if cause != nil {
		l.ErrorContext(ctx, "connection closed",
			"error", cause,
		)
	} else {
		l.InfoContext(ctx, "disconnected")
	}
}

// LogHeartbeatTimeout logs a probe that did not answer within the grace period.
func (l *Logger) LogHeartbeatTimeout(ctx context.Context, grace time.Duration) {
	l.ErrorContext(ctx, "heartbeat timed out after "+grace.String(),
		"grace", grace,
	)
}

// LogHeartbeatFailure logs a probe that answered with an error.
func (l *Logger) LogHeartbeatFailure(ctx context.Context, err error) {
	l.ErrorContext(ctx, "heartbeat failed",
		"error", err,
	)
}

// LogIndex logs an index provisioning attempt. Failures are expected
// (e.g. an equivalent index exists under another name) and logged at debug.
func (l *Logger) LogIndex(ctx context.Context, collection, name string, err error) {
	if err != nil {
		l.DebugContext(ctx, "index creation failed",
			"collection", collection,
			"index", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index ensured",
			"collection", collection,
			"index", name,
		)
	}
}

// LogRead logs a read operation.
func (l *Logger) LogRead(ctx context.Context, op string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "read failed",
			"op", op,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "read completed",
			"op", op,
			"results", results,
		)
	}
}

// LogCommit logs a commit. Lost optimistic-lock races are logged at warn.
func (l *Logger) LogCommit(ctx context.Context, id string, action Action, err error) {
	switch {
	case err == nil:
		l.DebugContext(ctx, "commit completed",
			"id", id,
			"action", string(action),
		)
	case isConcurrency(err):
		l.WarnContext(ctx, "commit conflict",
			"id", id,
			"action", string(action),
		)
	default:
		l.ErrorContext(ctx, "commit failed",
			"id", id,
			"action", string(action),
			"error", err,
		)
	}
}

// LogClear logs a clear operation.
func (l *Logger) LogClear(ctx context.Context, collections int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "clear failed",
			"collections", collections,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "cleared",
			"collections", collections,
		)
	}
}
