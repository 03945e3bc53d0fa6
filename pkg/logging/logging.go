// Package logging provides structured logging for batchio using zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger *zerolog.Logger

func init() {
	l := New(os.Stderr, false, false)
	logger = &l
}

// New builds a logger writing to out.
// If debug is true, the level is Debug, otherwise Info. The level is set on
// the logger; the zerolog global level is left alone.
// If human is true, a console writer is used instead of JSON.
func New(out io.Writer, debug, human bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var output zerolog.LevelWriter
	if human {
		output = zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}}
	} else {
		output = zerolog.LevelWriterAdapter{Writer: out}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Init configures the global logger to write to stderr.
func Init(debug, human bool) {
	l := New(os.Stderr, debug, human)
	logger = &l
}

// L returns the base logger.
func L() *zerolog.Logger {
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// SetLogger allows overriding the global logger (useful for testing).
func SetLogger(l zerolog.Logger) {
	logger = &l
}
