// Package logging provides structured logging configuration using zerolog.
package logging

import (
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
	// Writers other than *os.File are serialized with zerolog.SyncWriter.
	Output io.Writer

	// WithPID adds the process id to every entry. Worker processes set it so
	// their forwarded stderr can be told apart.
	WithPID bool
}

// Component names attached to sub-loggers.
const (
	ComponentFanout    = "fanout"
	ComponentRetry     = "retry"
	ComponentWorker    = "worker"
	ComponentBackend   = "backend"
	ComponentCache     = "cache"
	ComponentRateLimit = "ratelimit"
	ComponentBench     = "bench"
	ComponentCLI       = "cli"
)

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
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	// Fan-out goroutines log concurrently; only files are safe for that as is.
	if _, ok := output.(*os.File); !ok {
		output = zerolog.SyncWriter(output)
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Create logger with timestamp
	ctx := zerolog.New(output).With().Timestamp()
	if cfg.WithPID {
		ctx = ctx.Int("pid", os.Getpid())
	}
	logger := ctx.Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
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
// Debug: Detailed information for debugging
//   - Chunk completion, cache hit/miss
//   - Backend request flow, worker process start
//   - Throttle state updates (healthy)
//
// Info: Normal operation events
//   - Batch requested, run started/finished
//   - Fallback to an in-process strategy
//   - Worker job started/finished, session open/close
//   - Benchmark summaries
//
// Warn: Warning conditions that don't prevent operation
//   - Failed fetch attempts that will be retried
//   - Throttling active
//   - Cache errors (fallback to backend)
//   - A failed chunk causing remaining chunks to be skipped
//
// Error: Error conditions requiring attention
//   - Retry attempts exhausted
//   - Run failed, worker process failed
//   - Critical throttle blocks
//   - Configuration errors
//
// Context Fields:
//   - variant: strategy variant (direct, threads, processes, hybrid)
//   - items: identifiers in a batch or run
//   - chunk: chunk index
//   - attempt, remaining: retry attempt number and remaining budget
//   - error_class: network, timeout, rate_limit, server, client, auth, ...
//   - duration: elapsed time
//   - pid: worker process id
