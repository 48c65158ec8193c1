/*
Package log provides structured logging for Vigil using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

Every failed job surfaces exactly one terminal frame on the streaming
channel (spec.md §7); this package is the operator-facing counterpart —
errors are logged with correlation IDs here, never leaked to clients.
*/
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTenantID creates a child logger with a tenant_id field.
func WithTenantID(tenantID string) zerolog.Logger {
	return Logger.With().Str("tenant_id", tenantID).Logger()
}

// WithArtifactID creates a child logger with an artifact_id field.
func WithArtifactID(artifactID string) zerolog.Logger {
	return Logger.With().Str("artifact_id", artifactID).Logger()
}

// WithJobID creates a child logger with a job_id field, used for the
// tracking ID issued by the ingest stage (spec.md §4.1 step 1).
func WithJobID(jobID string) zerolog.Logger {
	return Logger.With().Str("job_id", jobID).Logger()
}

// WithCorrelationID creates a child logger carrying the correlation ID an
// operator uses to look up a failed job (spec.md §7).
func WithCorrelationID(correlationID string) zerolog.Logger {
	return Logger.With().Str("correlation_id", correlationID).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
