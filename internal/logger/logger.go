// Package logger builds the service's zerolog root logger: leveled
// console and rotating-file writers with credential redaction in between.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty disables file output
	Console   bool
	Pretty    bool // human-readable console format
	Redaction bool // mask credential-shaped values
	MaxSize   int  // MB before the file rotates
	MaxAge    int  // days rotated files are kept
	Compress  bool // gzip rotated files
}

// DefaultConfig returns the logging defaults the service ships with.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}

// Logger owns the configured zerolog instance and its file rotator.
type Logger struct {
	logger   zerolog.Logger
	rotator  *RotatingWriter
	redactor *Redactor
}

// New builds a logger from the config and installs it as the zerolog
// package-level logger so `log.` callers share the same sinks.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(cfg.Pretty))
	}

	var rotator *RotatingWriter
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		rotator, err = NewRotatingWriter(cfg.File, maxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, rotator)
	}

	var out io.Writer
	switch len(sinks) {
	case 0:
		out = os.Stdout
	case 1:
		out = sinks[0]
	default:
		out = io.MultiWriter(sinks...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		out = redactor.Wrap(out)
	}

	root := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = root

	return &Logger{logger: root, rotator: rotator, redactor: redactor}, nil
}

func consoleSink(pretty bool) io.Writer {
	if !pretty {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// With opens a child context for adding fields.
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger for components that
// take one directly.
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}
