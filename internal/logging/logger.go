package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New creates the structured logger. Diagnostics go to stderr so the
// operator summary on stdout stays clean.
func New(level string) zerolog.Logger {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}
