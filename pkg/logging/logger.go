// Package logging configures zerolog for the Atlassian client and its CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every attempt, Retry-After parse and throttle wait.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs rate-limit decisions and pagination loops.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled silences all output.
	LevelDisabled LogLevel = "disabled"
)

// Component names attached as the "component" field.
const (
	ComponentClient      = "atlassian-client"
	ComponentTokenBucket = "token-bucket"
	ComponentPagination  = "pagination"
	ComponentJira        = "jira"
	ComponentOAuth       = "oauth"
	ComponentCLI         = "atlassian-fetch"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON lines.
	Pretty bool

	// Output defaults to os.Stderr so stdout stays free for exported records.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a child of the global logger for a component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-request detail
//   - Every attempt (operation, method, path, attempt, status_code, duration, redacted headers)
//   - Retry-After parsing (variant, retry_at)
//   - Local throttle waits and rejections
//   - Fetched pages and nested connection drains
//   - OAuth access token refreshes
//
// Info: CLI lifecycle
//   - Export started/finished, record counts
//   - Metrics listener address
//
// Warn: server pushback and data anomalies
//   - 429 decisions (retry, wait_cap, retries_exhausted, malformed)
//   - Repeated pagination cursor or offset
//   - Bucket store contention
//
// Error: left to callers; the library returns errors instead of logging them.
//
// Context Fields:
//   - operation: GraphQL operation name or REST operation label
//   - attempt: 1-based attempt number
//   - status_code: HTTP status code (0 for transport failures)
//   - retry_after / retry_at / wait / max_wait: rate-limit decision inputs
//   - request_id: server request id from headers or extensions.requestId
//   - cost: local throttle cost points
//   - kind / key / pages: pagination position
