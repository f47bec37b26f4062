// Package logging builds the structured zerolog.Logger shared by every
// actor in the core, adapted from the teacher's
// internal/single/monitoring/logger.go.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the logger's level and output format.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a structured logger: JSON by default (Loki-compatible),
// console (human-readable) when Format is "console".
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "overlay-engine").
		Logger()
}

// InitGlobal installs the logger as zerolog's package-level default, for
// library code that logs via the global logger rather than an injected
// instance.
func InitGlobal(cfg Config) zerolog.Logger {
	logger := New(cfg)
	log.Logger = logger
	return logger
}

// LogPanic logs a recovered panic with a full stack trace. Actors use this
// in their top-level recover blocks so a handler panic is diagnosable
// without taking the process down (§7: actor internals never raise to the
// mailbox loop).
func LogPanic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
