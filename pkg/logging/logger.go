// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"sort"
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
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`

	// Fields are attached to every event, e.g. deployment or version.
	Fields map[string]string `yaml:"fields"`
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
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	lc := zerolog.New(out).With().Timestamp()
	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lc = lc.Str(k, cfg.Fields[k])
	}

	logger := lc.Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts LogLevel to zerolog.Level. Unknown values fall back to info.
func ParseLevel(level LogLevel) zerolog.Level {
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

// ValidLevel reports whether ParseLevel knows level. Empty counts as valid.
func ValidLevel(level LogLevel) bool {
	switch strings.ToLower(string(level)) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Outbound request flow (method, endpoint, request id)
//   - Every poll attempt and its decoded status
//   - Guard acquire/release
//
// Info: Normal operation events
//   - Workflow started / finished with summary counts
//   - Per-item success (resource address, attempts)
//   - Finalize step invoked
//
// Warn: Conditions that affect a single item, not the batch
//   - Item failures (transport, decode, rejected by service)
//   - Poll timeouts (service too slow)
//   - Unknown job status strings
//   - Finalize after partial failure
//   - Rate budget throttling
//
// Error: Conditions that affect a whole batch or the process
//   - Batch failures (no resources, list unreachable)
//   - Recovered panics inside a workflow goroutine
//   - Guard backend unavailable
//   - Configuration errors
//
// Context Fields:
//   - run_id: workflow run identifier
//   - workflow: creation or activation
//   - index: entity or resource position in the batch snapshot
//   - entity: entity display name
//   - job_id: remote job handle
//   - address: resource address
//   - attempt: poll attempt number (1-based)
//   - endpoint: logical endpoint name (create, status, list, activate)
//   - status_code: HTTP status code
//   - error_kind: transport or decode error classification
//   - request_id: X-Request-ID sent with the call
