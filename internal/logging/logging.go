package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json (Loki-compatible) or pretty (local dev)
}

// New creates the service root logger.
//
// Structured JSON output by default, console writer when Format is
// "pretty". Sub-components derive their loggers via
// logger.With().Str("component", ...).
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "parley").
		Logger()
}

// RecoverPanic logs a recovered panic with context fields. Use as a
// deferred call in goroutine entry points so one handler crash cannot
// take the process down.
func RecoverPanic(logger zerolog.Logger, where string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().Interface("panic", r).Str("where", where)
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("Recovered from panic")
	}
}
