package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// log is the process-wide logger. Output goes to stderr so command
// output printed on stdout stays machine-readable.
var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Configure sets the level ("debug", "info", "warn", "error") and the
// formatter ("text" or "json"). Unknown values keep the current setting.
func Configure(level, format string) {
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	}

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	}
}

// SetOutput redirects log output (tests use io.Discard or a buffer)
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Fields is an alias so callers don't need to import logrus directly
type Fields = logrus.Fields

// WithFields returns an entry carrying structured fields. Event names are
// passed as the message, e.g. logger.WithFields(...).Info("ssh.connected").
func WithFields(fields Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return log.IsLevelEnabled(logrus.DebugLevel)
}
