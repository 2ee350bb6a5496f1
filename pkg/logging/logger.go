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

	// Service is added to every log line as "service" when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(toZerolog(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		logCtx = logCtx.Str("service", cfg.Service)
	}
	logger := logCtx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel validates a level name as given on a command line.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// toZerolog converts LogLevel to zerolog.Level. Unknown levels map to info.
func toZerolog(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}

	switch parsed {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
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
// Debug: Detailed information for debugging
//   - Page issue, dedup and settle (page, start, generation)
//   - Page cache hit/miss
//   - Expire bookkeeping (dropped_pages)
//
// Info: Normal operation events
//   - Collection length learned or changed
//   - Filter changes
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Page fetch failures (items stay eligible for retry)
//   - Malformed totals (previous length kept)
//   - Retry attempts against the remote source
//   - Page cache errors (fallback to the remote source)
//
// Error: Error conditions requiring attention
//   - Remote requests failed after retries
//   - Remote error budget critical
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (sparse-collection, page-cache, remote-client)
//   - collection: collection ID
//   - page, start, length: page descriptor
//   - generation: filter generation of a page request
//   - endpoint: remote path
//   - status_code: HTTP status code
//   - error_class: client, server, rate_limit or network
