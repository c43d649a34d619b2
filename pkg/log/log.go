// Package log configures the process-wide structured logger shared by the
// bankflow binaries.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default logger. Level comes from the --log-level flag;
// LOG_FORMAT=json switches to JSON output for log shippers.
func Setup(logLevel string) {
	options := &slog.HandlerOptions{Level: parseLevel(logLevel)}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, options)
	} else {
		handler = slog.NewTextHandler(os.Stderr, options)
	}

	slog.SetDefault(slog.New(handler).With("service", "bankflow"))
}

func parseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns the shared logger tagged with the owning module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
