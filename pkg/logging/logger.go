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

	// Service is attached to every entry as "service" when set.
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
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel validates a level name case-insensitively. "warning" is
// accepted for warn and an empty name means info.
func ParseLevel(name string) (LogLevel, error) {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(name))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l, nil
	case "warning":
		return LevelWarn, nil
	case "":
		return LevelInfo, nil
	}
	return "", fmt.Errorf("unknown log level %q", name)
}

// zerologLevel maps l onto zerolog; unknown names log at info.
func (l LogLevel) zerologLevel() zerolog.Level {
	parsed, err := ParseLevel(string(l))
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

// Resolve returns *l tagged with component, or the global component logger
// when l is nil. Constructors take an optional *zerolog.Logger and pass it here.
func Resolve(l *zerolog.Logger, component string) zerolog.Logger {
	if l == nil {
		return NewLogger(component)
	}
	return l.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: cache hit/miss, queue dispatch, jitter and backoff sleeps
// Info: fetch cycle start/finish, enrichment progress, maintenance results
// Warn: retries, throttling, cache corruption repaired, enrichment item failures
// Error: aborted fetch cycles, non-recoverable remote errors
//
// Context Fields:
//   - component: emitting package (cache, queue, fetcher, ...)
//   - request: request path and query
//   - kind: request kind or error kind
//   - retry_count / max_retries: retry progress
//   - backoff: active global backoff
//   - offset / batch_size: batch loop position
//   - key: cache key
