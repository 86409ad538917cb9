package mirrordb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with mirrordb-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// LogFind logs one delivery of a find operation.
func (l *Logger) LogFind(ctx context.Context, collection string, results int, interim bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "find failed",
			"collection", collection,
			"interim", interim,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "find completed",
			"collection", collection,
			"interim", interim,
			"results", results,
		)
	}
}

// LogCache logs a cache reconciliation.
func (l *Logger) LogCache(ctx context.Context, collection string, docs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache failed",
			"collection", collection,
			"docs", docs,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cache completed",
			"collection", collection,
			"docs", docs,
		)
	}
}

// LogUpload logs an upload cycle for one collection.
func (l *Logger) LogUpload(ctx context.Context, collection string, upserts, removes, discarded, conflicts int) {
	if discarded > 0 || conflicts > 0 {
		l.WarnContext(ctx, "upload completed with rejections",
			"collection", collection,
			"upserts", upserts,
			"removes", removes,
			"discarded", discarded,
			"conflicts", conflicts,
		)
	} else {
		l.InfoContext(ctx, "upload completed",
			"collection", collection,
			"upserts", upserts,
			"removes", removes,
		)
	}
}

// LogQuickfind logs a quickfind handshake.
func (l *Logger) LogQuickfind(ctx context.Context, collection string, shards, changed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "quickfind failed",
			"collection", collection,
			"shards", shards,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "quickfind completed",
			"collection", collection,
			"shards", shards,
			"changed", changed,
		)
	}
}
