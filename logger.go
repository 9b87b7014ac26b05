package lexgo

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with lexgo-specific helpers.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithCollection tags every record with the collection root.
func (l *Logger) WithCollection(root string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", root),
	}
}

// LogAdd logs a document add.
func (l *Logger) LogAdd(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"id", id,
		)
	}
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, version uint64, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit completed",
			"version", version,
			"segments", segments,
		)
	}
}

// LogMerge logs an explicit merge such as Optimize.
func (l *Logger) LogMerge(ctx context.Context, before, after int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"segments", before,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "merge completed",
			"segments_before", before,
			"segments_after", after,
		)
	}
}

// LogSearch logs a search. Query errors are the caller's problem and only
// logged at debug level.
func (l *Logger) LogSearch(ctx context.Context, query string, total uint64, err error) {
	var qe *QueryError
	switch {
	case err == nil:
		l.DebugContext(ctx, "search completed",
			"query", query,
			"total", total,
		)
	case errors.As(err, &qe):
		l.DebugContext(ctx, "search rejected",
			"query", query,
			"status", qe.Status,
			"error", err,
		)
	default:
		l.ErrorContext(ctx, "search failed",
			"query", query,
			"error", err,
		)
	}
}

// LogCorruption logs a corrupt file. Corrupt segments are dropped from
// the reader set, so this is a warning rather than an error.
func (l *Logger) LogCorruption(ctx context.Context, op string, err error) {
	l.WarnContext(ctx, "corruption detected",
		"op", op,
		"error", err,
	)
}
