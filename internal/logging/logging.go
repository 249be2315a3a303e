// Package logging is the ambient logging layer shared by both binaries.
// It keeps the teacher's Init/Debug/Info/Error call-site shape but backs
// it with logrus instead of a bespoke log.Printf wrapper.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
}

// Init configures the logging level from LOG_LEVEL (debug|info|error).
// Unset or unrecognized values keep the info level.
func Init() {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
}

// Debug logs a debug-level message (only surfaces when LOG_LEVEL=debug).
func Debug(format string, v ...interface{}) { log.Debugf(format, v...) }

// Info logs an info-level message.
func Info(format string, v ...interface{}) { log.Infof(format, v...) }

// Warn logs a warn-level message.
func Warn(format string, v ...interface{}) { log.Warnf(format, v...) }

// Error logs an error-level message. Always surfaces.
func Error(format string, v ...interface{}) { log.Errorf(format, v...) }

// Fields is re-exported so call sites needing structured fields don't
// have to import logrus directly.
type Fields = logrus.Fields

// WithFields returns an entry carrying structured fields, mirroring
// estuary-flow's log.WithFields(...).Info(...) call shape.
func WithFields(fields Fields) *logrus.Entry { return log.WithFields(fields) }
