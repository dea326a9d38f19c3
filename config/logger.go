package config

import (
	"io"
	"log/slog"
)

// NewLogger returns a text logger writing to w. Verbose logs at debug level, otherwise
// only warnings and errors are written.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
