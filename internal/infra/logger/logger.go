package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"aembot/internal/infra/config"
)

// New builds the application logger from config. The second return value
// closes the underlying file when logging to one; defer it in main.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	w, closeFn, err := output(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("log output %q: %w", cfg.Output, err)
	}

	opts := &slog.HandlerOptions{Level: levelFrom(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h), closeFn, nil
}

// levelFrom maps a config level name to slog. Unknown names fall back
// to info rather than erroring: a typo in config must not kill startup.
func levelFrom(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// output resolves the configured target to a writer plus its closer.
// stdout and stderr need no closing; anything else is a file path.
func output(target string) (io.Writer, func() error, error) {
	switch strings.ToLower(target) {
	case "stdout":
		return os.Stdout, func() error { return nil }, nil
	case "stderr", "":
		return os.Stderr, func() error { return nil }, nil
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
