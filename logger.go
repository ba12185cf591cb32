package swapgo

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/swapgo/swap"
)

// Logger wraps slog.Logger with swap-specific events.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogSwap logs an eviction attempt that reached storage.
func (l *Logger) LogSwap(ctx context.Context, kind string, bytes int, d time.Duration, err error) {
	if err != nil {
		l.DebugContext(ctx, "swap rejected",
			"kind", kind,
			"duration", d,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "swap completed",
			"kind", kind,
			"bytes", bytes,
			"duration", d,
		)
	}
}

// LogReload logs a reload of a swapped entity.
func (l *Logger) LogReload(ctx context.Context, kind string, bytes int, d time.Duration, err error) {
	if err != nil {
		l.DebugContext(ctx, "reload fell back to defaults",
			"kind", kind,
			"duration", d,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "reload completed",
			"kind", kind,
			"bytes", bytes,
			"duration", d,
		)
	}
}

// LogCycle logs an eviction pass.
func (l *Logger) LogCycle(ctx context.Context, state swap.MemoryState, candidates, swapped int, d time.Duration) {
	if swapped > 0 {
		l.InfoContext(ctx, "eviction cycle",
			"state", state.String(),
			"candidates", candidates,
			"swapped", swapped,
			"duration", d,
		)
	} else {
		l.DebugContext(ctx, "eviction cycle",
			"state", state.String(),
			"candidates", candidates,
		)
	}
}

// LogMemoryState logs a memory state transition.
func (l *Logger) LogMemoryState(ctx context.Context, from, to swap.MemoryState, freeRatio float64) {
	level := slog.LevelInfo
	if to <= swap.Bad {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "memory state changed",
		"from", from.String(),
		"to", to.String(),
		"free_ratio", freeRatio,
	)
}
