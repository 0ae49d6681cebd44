// Package logging builds the zerolog logger shared by every component.
//
// The terminal UI owns stdout, so interactive runs log to a file;
// one-shot CLI commands and the development API log to the console.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nhle/eventdesk/internal/model"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Sink selects where log lines go.
type Sink int

const (
	SinkFile Sink = iota
	SinkConsole
)

// New returns a logger for cfg. The returned closer releases the log file
// and is safe to call when logging to the console.
func New(cfg model.LogConfig, sink Sink) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"
	level := ParseLevel(cfg.Level, zerolog.InfoLevel)

	if sink == SinkConsole || cfg.File == "" {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}
		zl := zerolog.New(cw).Level(level).With().Timestamp().Logger()
		return zl, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("opening log file %s: %w", cfg.File, err)
	}

	zl := zerolog.New(zerolog.SyncWriter(f)).Level(level).With().Timestamp().Logger()
	return zl, f, nil
}

// ParseLevel maps a level name onto a zerolog level, returning def for
// anything it does not recognise.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// Component returns l tagged with a comp field.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("comp", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
