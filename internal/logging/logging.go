// Package logging configures the service-wide logrus logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with domain field helpers.
type Logger struct {
	*logrus.Logger
}

// New creates a JSON logger at the given level. Unknown levels fall back to info.
func New(level string) *Logger {
	return newWithOutput(level, os.Stdout)
}

func newWithOutput(level string, out io.Writer) *Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)

	return &Logger{Logger: log}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return newWithOutput("panic", io.Discard)
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

func (l *Logger) WithStaff(staffID string) *logrus.Entry {
	return l.Logger.WithField("staff_id", staffID)
}

func (l *Logger) WithTrip(tripID, staffID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"trip_id": tripID, "staff_id": staffID})
}

func (l *Logger) WithVisit(visitID, staffID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"visit_id": visitID, "staff_id": staffID})
}
