// Package log provides the process-wide structured logger.
package log

import (
	"sync"
)

// Logger is the logging interface used across the orchestrator.
// It is satisfied by the logrus-backed implementation in this package.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

var (
	mu     sync.Mutex
	logger Logger = newLogrusLogger(Options{Level: "info"})
)

// GetLogger returns the process-wide logger. Safe to call before Init;
// a default info-level console logger is used until Init runs.
func GetLogger() Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Init replaces the process-wide logger according to opts.
func Init(opts Options) error {
	l, err := buildLogger(opts)
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}
