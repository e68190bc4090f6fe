package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/heartmarshall/newsline-backend/internal/config"
)

// NewLogger builds the process-wide logger from LogConfig and installs it as
// the slog default, so anything logging through package slog lands in the
// same stream. Format "json" is for production log pipelines; "text" adds
// source locations for local runs. Unknown levels fall back to info. Output
// goes to stderr.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	logger := newLoggerTo(os.Stderr, cfg)
	slog.SetDefault(logger)
	return logger
}

func newLoggerTo(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: strings.EqualFold(cfg.Format, "text"),
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
