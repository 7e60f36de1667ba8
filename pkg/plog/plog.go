package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level mirrors slog.Level and adds NOTICE between DEBUG and INFO.
type Level slog.Level

const (
	LevelDebug  Level = Level(slog.LevelDebug)
	LevelNotice Level = Level(slog.LevelDebug + 2)
	LevelInfo   Level = Level(slog.LevelInfo)
	LevelWarn   Level = Level(slog.LevelWarn)
	LevelError  Level = Level(slog.LevelError)
)

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger atomic.Pointer[slog.Logger]
var levelVar = new(slog.LevelVar)

// replaceLevelName renders the custom NOTICE level by name instead of "DEBUG+2".
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && Level(lvl) == LevelNotice {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}

func init() {
	levelVar.Set(slog.LevelInfo)

	// Handler for info-level logs (and below) to stdout
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: replaceLevelName,
	})

	// Handler for warning/error-level logs to stderr
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       slog.LevelWarn,
		ReplaceAttr: replaceLevelName,
	})

	defaultLogger.Store(slog.New(&LevelDispatchHandler{
		stdoutHandler: stdoutHandler,
		stderrHandler: stderrHandler,
	}))
}

// SetOutput allows redirecting the logger's output, primarily for testing.
// All levels are written to w.
func SetOutput(w io.Writer) {
	defaultLogger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: replaceLevelName,
	})))
}

// SetLevel sets the minimum level for the global logger.
func SetLevel(l Level) {
	levelVar.Set(slog.Level(l))
}

// LevelFromString maps a config/flag value to a Level. Unknown values map to INFO.
func LevelFromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Default returns the underlying slog.Logger.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelDebug), msg, args...)
}

// Notice logs a message for actions that change state on disk.
func Notice(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelNotice), msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelInfo), msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelWarn), msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelError), msg, args...)
}
