// Package logging configures the process-wide zerolog logger.
//
// Components log through github.com/rs/zerolog/log with structured fields;
// this package only decides where output goes and at which level.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger output.
type Config struct {
	// Level is "debug", "info", "warn" or "error".
	Level string
	// FilePath receives plain-text logs when set.
	FilePath string
	// Console mirrors logs to stderr.
	Console bool
	// NoColor disables ANSI colors on the console.
	NoColor bool
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Console: true,
	}
}

// VerboseConfig logs everything to stderr.
func VerboseConfig() *Config {
	return &Config{
		Level:   "debug",
		Console: true,
	}
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// nopCloser is returned when no file was opened.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger for cfg. The returned closer releases the log file.
func New(cfg *Config) (zerolog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    cfg.NoColor,
			TimeFormat: time.Kitchen,
		})
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339})
		closer = f
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}

// Setup builds a logger for cfg and installs it as the global logger.
func Setup(cfg *Config) (io.Closer, error) {
	logger, closer, err := New(cfg)
	if err != nil {
		return closer, err
	}
	SetGlobal(logger)
	return closer, nil
}

// SetGlobal replaces the logger used by github.com/rs/zerolog/log.
func SetGlobal(l zerolog.Logger) {
	log.Logger = l
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
