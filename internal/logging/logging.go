// =============================================================================
// CFDI Control - Logging Setup
// =============================================================================
//
// Process-wide logging is owned by the front-end (the CLI in this repo). The
// core packages only accept a logrus.FieldLogger and never configure sinks.
//
// =============================================================================

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Setup builds a logger that writes to stderr and, when logFile is not
// empty, also appends to logFile. The returned cleanup closes the file.
func Setup(level, logFile string) (*logrus.Logger, func() error, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cleanup := func() error { return nil }
	if logFile == "" {
		log.SetOutput(os.Stderr)
		return log, cleanup, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	cleanup = f.Close
	log.WithField("path", logFile).Debug("logger initialized")

	return log, cleanup, nil
}

// Discard returns a logger that drops everything. Components fall back to
// it when constructed with a nil logger.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OrDiscard returns log, or a discard logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
