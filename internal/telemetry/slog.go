package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default logger from the logging
// section of the application configuration.
//
// format "json" selects the JSON handler (machine readable, production);
// any other value selects the text handler. level is one of "debug",
// "info", "warn", "error" (case-insensitive) and defaults to "info".
// Source locations are attached only at debug level.
//
// Audit events do NOT go through this logger: the audit chain has its own
// durable store because application logs are ephemeral debug output while
// audit entries are tamper-evident records with integrity guarantees.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
