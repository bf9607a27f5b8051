// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Configure applies level and format to the standard logrus logger and
// returns it. Unknown levels fall back to info, unknown formats to text.
func Configure(level, format string) *log.Logger {
	logger := log.StandardLogger()
	apply(logger, level, format, os.Stderr)
	return logger
}

// New returns an independent logger, used where tests need to capture output.
func New(level, format string, out io.Writer) *log.Logger {
	logger := log.New()
	apply(logger, level, format, out)
	return logger
}

func apply(logger *log.Logger, level, format string, out io.Writer) {
	logger.SetOutput(out)
	logger.SetLevel(ParseLevel(level))

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func ParseLevel(raw string) log.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}
