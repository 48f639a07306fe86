// Package logging builds the zerolog loggers shared by every binary.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
)

// New creates a logger configured from cfg, writing to stderr.
// Supports "debug" | "info" | "warn" | "error" levels and "json" | "console"
// formats. The dev environment always logs to the console.
func New(cfg config.Config, service string) *zerolog.Logger {
	return NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.Env == "dev", service)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string, dev bool, service string) *zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if strings.EqualFold(format, "console") || (dev && !strings.EqualFold(format, "json")) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	if service != "" {
		logger = logger.With().Str("service", service).Logger()
	}
	return &logger
}
