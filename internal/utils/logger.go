// Package utils holds the small shared helpers: logger construction,
// boundary error wrapping, and the latency ring used by analyzer status.
package utils

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide slog logger. Components receive it by
// constructor injection; nothing in the service logs through a global.
func NewLogger(level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parseLevel maps the config string to a slog level. Unknown values fall back
// to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
