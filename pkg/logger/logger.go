// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var global *slog.Logger

// ParseLevel maps a level name to its slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}

// Init installs a text handler at the given level as the default logger.
// w defaults to stderr.
func Init(level string, w io.Writer) error {
	slogLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}

	global = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel}))
	slog.SetDefault(global)
	return nil
}

// L returns the configured logger, or the slog default when Init has not
// run.
func L() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}
