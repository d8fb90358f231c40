package logger

import (
	"io"
	"log/slog"
	"os"
)

// New creates a new slog.Logger instance that writes JSON to os.Stdout.
// If debug is true, the log level is set to Debug. Otherwise, it's set to Info.
func New(debug bool) *slog.Logger {
	return NewWithWriter(os.Stdout, debug)
}

// NewWithWriter creates a new JSON slog.Logger instance with a specific writer.
func NewWithWriter(w io.Writer, debug bool) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, options(debug)))
}

// NewText creates a human-readable logger for local runs.
func NewText(w io.Writer, debug bool) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, options(debug)))
}

func options(debug bool) *slog.HandlerOptions {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return &slog.HandlerOptions{Level: level}
}

// KeySuffix returns the last 4 characters of an API key, or the full key if
// it's shorter. Keys are never logged in full.
func KeySuffix(key string) string {
	if len(key) > 4 {
		return key[len(key)-4:]
	}
	return key
}
