package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger. DEV gets a human readable console writer, every
// other environment gets JSON lines. The result is also installed as the global logger.
func New(env, level string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if env == "DEV" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// Prefix returns a short, log-safe prefix of a credential.
func Prefix(secret string) string {
	if len(secret) <= 6 {
		return "***"
	}
	return secret[:6] + "..."
}
