package logging

import (
	"log/slog"
	"os"
)

// New creates the process logger with JSON output at the given level.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Component returns a child logger tagged with the owning subsystem.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
