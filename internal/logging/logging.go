// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"readiness/internal/config"
)

// Setup sets the global level and output format. Unknown levels fall back to info.
func Setup(cfg config.LoggingConfig) {
	SetupWriter(cfg, os.Stderr)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(cfg config.LoggingConfig, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	if cfg.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
}

// ParseLevel maps a config string onto a zerolog level
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
