package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger from the loaded configuration:
// human-readable text on stderr, JSON appended to the configured log file.
// The returned cleanup closes the file.
func SetupLogger(cfg Config) (*slog.Logger, func() error) {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("log file unavailable, logging to stderr only", "error", err, "file", cfg.LogFile)
		return slog.New(stderrHandler), func() error { return nil }
	}

	logger := slog.New(slogmulti.Fanout(
		stderrHandler,
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: cfg.LogLevel}),
	))
	return logger, file.Close
}

// FanoutLogger writes text and JSON records to the given writers. Tests use
// it to capture both streams without touching the filesystem.
func FanoutLogger(text, structured io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(text, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(structured, &slog.HandlerOptions{Level: level}),
	))
}
