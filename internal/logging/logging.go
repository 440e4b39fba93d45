// Package logging builds the JSON [log/slog] logger used across tenantdesk.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a logger that writes JSON to stderr at the given level.
func New(level string) *slog.Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter returns a JSON logger writing to w. Every record carries the
// service name so lines stay attributable once shipped to a shared sink.
func NewWithWriter(level string, w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler).With(slog.String("service", "tenantdesk"))
}

// ParseLevel converts a level name to a [slog.Level], falling back to info for
// empty or unknown input.
func ParseLevel(s string) slog.Level {
	if l, ok := LookupLevel(s); ok {
		return l
	}
	return slog.LevelInfo
}

// LookupLevel reports whether s names a known level (case-insensitive).
// An empty string is accepted as info.
func LookupLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
