package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the global slog logger on stderr, leaving stdout to
// search output. JSON if HYPERGREP_JSON_LOG=1/true/json else text.
func InitLogging(service string) *slog.Logger {
	return initLogging(os.Stderr, service)
}

func initLogging(w io.Writer, service string) *slog.Logger {
	var mode = strings.ToLower(os.Getenv("HYPERGREP_JSON_LOG"))
	var json = mode == "1" || mode == "true" || mode == "json"
	var opts = &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	var logger = slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Debug("logging initialized", "json", json)

	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("HYPERGREP_LOG_LEVEL")) {
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
