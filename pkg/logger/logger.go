// Package logger configures slog for the retrieval binaries and threads the
// request id through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Attribute keys shared by every log line.
const (
	RequestIDKey = "request_id"
	ComponentKey = "component"
)

type requestIDKey struct{}

// New builds a logger writing to w. format is "json" or text; level accepts
// slog's names with optional offsets ("debug", "WARN", "info+2"). Unknown
// levels mean info. Debug loggers also record the call site.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetupWriter installs New(w, level, format) as the process default. The
// query command logs to stderr so results on stdout stay machine-readable.
func SetupWriter(w io.Writer, level, format string) {
	slog.SetDefault(New(w, level, format))
}

func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// WithRequestID returns ctx unchanged when requestID is empty.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext is the default logger tagged with the request id, if any.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return slog.Default().With(RequestIDKey, id)
	}
	return slog.Default()
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With(ComponentKey, component)
}
