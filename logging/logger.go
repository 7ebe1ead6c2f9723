// Package logging provides structured logging for talkberry.
package logging

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is a structured logger wrapping slog.Logger with convenience
// methods for common client-side logging patterns.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) *Logger {
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a new Logger with text output format.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new Logger with JSON output format.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewJSONHandler(w, opts))
}

// NewDevelopmentLogger creates a logger suitable for development.
// Uses text format with debug level output to stderr.
func NewDevelopmentLogger() *Logger {
	return NewTextLogger(os.Stderr, slog.LevelDebug)
}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() *Logger {
	return New(nopHandler{})
}

// ParseLevel converts a config level string to a slog.Level.
// Unknown strings fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with the given attributes added to every log entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// WithComponent returns a new Logger with a component attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithInterface returns a new Logger with a capability interface attribute.
func (l *Logger) WithInterface(kind string) *Logger {
	return l.With(Interface(kind))
}

// Common attribute constructors for capability-client fields.

// Component creates a component attribute for identifying the source module.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Interface creates a capability interface attribute.
func Interface(kind string) slog.Attr {
	return slog.String("interface", kind)
}

// Method creates a remote method attribute.
func Method(name string) slog.Attr {
	return slog.String("method", name)
}

// Socket creates a socket path attribute.
func Socket(path string) slog.Attr {
	return slog.String("socket", path)
}

// Height creates a block height attribute.
func Height(h int64) slog.Attr {
	return slog.Int64("height", h)
}

// Hash creates a hash attribute (hex-encoded).
func Hash(h []byte) slog.Attr {
	return slog.String("hash", hex.EncodeToString(h))
}

// Notification creates a notification kind attribute.
func Notification(kind string) slog.Attr {
	return slog.String("notification", kind)
}

// State creates a subscription state attribute.
func State(s string) slog.Attr {
	return slog.String("state", s)
}

// Duration creates a duration attribute in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Nanoseconds())/1e6)
}

// Count creates a count attribute.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Size creates a size attribute in bytes.
func Size(n int) slog.Attr {
	return slog.Int("size_bytes", n)
}

// nopHandler is a slog.Handler that discards everything.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
