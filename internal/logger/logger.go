// Package logger configures zerolog from command line options.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a go-flags option group shared by all commands.
type Logger struct {
	Level  string `long:"log-level"  env:"LOG_LEVEL"  description:"Log level (trace, debug, info, warn, error)" default:"info"`
	Format string `long:"log-format" env:"LOG_FORMAT" description:"Log format (console, json)"                  default:"console"`
}

// Setup applies the options to the global zerolog logger.
func (l *Logger) Setup() {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if l.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
}
