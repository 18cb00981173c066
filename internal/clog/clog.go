// Package clog is the library's structured-logging ambient layer: a
// package-level singleton logrus.Logger, settable once at Connect()
// time, consulted by internal/conn and internal/pool for
// connection-lifecycle events.
package clog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is the logging verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var (
	mu  sync.Mutex
	log *logrus.Logger
)

// Init (re)configures the package-level logger. Safe to call more than
// once; a Handler's Option (WithLogLevel) calls it during Connect.
func Init(level Level) {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(levelToLogrus(level))
	log = l
}

func levelToLogrus(level Level) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Get returns the package logger, lazily defaulting to InfoLevel so a
// caller who never calls Init still gets sane output instead of a nil
// dereference.
func Get() *logrus.Logger {
	mu.Lock()
	l := log
	mu.Unlock()
	if l == nil {
		Init(InfoLevel)
		mu.Lock()
		l = log
		mu.Unlock()
	}
	return l
}

// WithField is a convenience used throughout internal/conn and
// internal/pool to tag log lines with the connection id / address.
func WithField(key string, value any) *logrus.Entry {
	return Get().WithField(key, value)
}

func Debugf(format string, args ...any) { Get().Debugf(format, args...) }
func Infof(format string, args ...any)  { Get().Infof(format, args...) }
func Warnf(format string, args ...any)  { Get().Warnf(format, args...) }
func Errorf(format string, args ...any) { Get().Errorf(format, args...) }
