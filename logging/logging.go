// Package logging contains the structured logger used by every camcal component.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the structured logging interface handed to detectors, solvers, stores and servers.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<parent>.<subname>" sharing the parent's outputs.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	Sync() error
}

// newEncoderConfig returns the zap encoder configuration shared by all console outputs.
func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewLoggerAtLevel returns a new logger that outputs logs at level and above to stdout in UTC.
func NewLoggerAtLevel(name string, level Level) Logger {
	return &impl{name: name, level: NewAtomicLevelAt(level), inUTC: true, appenders: []Appender{NewStdoutAppender()}}
}

// NewTestLogger returns a new logger that writes Debug+ logs through the test's Log method.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	logger := &impl{name: "", level: NewAtomicLevelAt(DEBUG), inUTC: false, appenders: []Appender{}}
	logger.AddAppender(NewTestAppender(tb))

	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	logger.AddAppender(observerCore)

	return logger, observedLogs
}
