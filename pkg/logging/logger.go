// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// File, when set, also appends JSON logs to this path.
	File string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. The returned close function
// releases the log file, if one was opened; it is never nil.
func Setup(cfg Config) (zerolog.Logger, func() error, error) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, f)
		closeFn = f.Close
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger, closeFn, nil
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-batch and per-request detail
//   - Batch flushed (batch, keys, found, duration)
//   - Retry scheduled (attempt, backoff, error_class)
//   - Skipped input records
//
// Info: run lifecycle
//   - Run start (batch_size, input, output)
//   - Progress every 100 batches
//   - Run summary (batches, keys, found, missing, duration)
//
// Warn: a key ended without a value after exhausting its attempts
//   - key, attempts, error
//
// Error: the run was aborted
//   - unreadable input, malformed record, sink write failure
//
// Context Fields:
//   - component: dispatcher, lookup-client, keystream, bulk-lookup
//   - key: the looked-up key
//   - attempts: attempts made for a key
//   - batch: 1-based batch sequence number
//   - duration: batch or run duration
