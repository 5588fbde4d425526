// Package logger provides the structured logger used across fieldsync
// services. It is a thin wrapper around logrus that pins a component field
// on every entry.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with a fixed component field.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the given component on top of an existing
// logrus logger.
func New(base *logrus.Logger, component string) *Logger {
	if base == nil {
		base = newBase()
	}
	return &Logger{entry: base.WithField("component", component)}
}

// NewDefault creates a logger for the given component with the default
// backend. The level is taken from LOG_LEVEL (debug|info|warn|error),
// defaulting to info.
func NewDefault(component string) *Logger {
	return New(newBase(), component)
}

func newBase() *logrus.Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if parsed, err := logrus.ParseLevel(level); err == nil && level != "" {
		base.SetLevel(parsed)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return base
}

// WithField returns a logger with the field attached to every entry.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached to every entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
