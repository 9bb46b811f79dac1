package idfreelist

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with allocator-specific helpers.
// Field names are kept consistent across the package.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr at Info is used.
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

// NewJSONLogger creates a Logger that writes JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithDir adds the registry directory to the logger.
func (l *Logger) WithDir(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dir", dir),
	}
}

// LogAssign logs an AssignID call.
func (l *Logger) LogAssign(ctx context.Context, key string, id ID, fresh bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "assign failed",
			"key", key,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "assign completed",
		"key", key,
		"id", id,
		"fresh", fresh,
	)
}

// LogRelease logs a ReleaseID call.
func (l *Logger) LogRelease(ctx context.Context, key string, id ID, found bool) {
	l.DebugContext(ctx, "release completed",
		"key", key,
		"id", id,
		"found", found,
	)
}

// LogGrow logs a capacity growth.
func (l *Logger) LogGrow(ctx context.Context, oldCapacity, newCapacity int, recovering bool) {
	l.DebugContext(ctx, "capacity grown",
		"old_capacity", oldCapacity,
		"new_capacity", newCapacity,
		"recovering", recovering,
	)
}

// LogRecovery logs the outcome of a recovery run.
func (l *Logger) LogRecovery(ctx context.Context, bindings int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"bindings", bindings,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "recovery completed",
		"bindings", bindings,
		"duration", duration,
	)
}

// LogCheckpoint logs a checkpoint write.
func (l *Logger) LogCheckpoint(ctx context.Context, name string, bindings int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "checkpoint saved",
		"name", name,
		"bindings", bindings,
	)
}
