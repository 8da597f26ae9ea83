package logging

import (
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is an enum of log levels. Its value can be `DEBUG`, `INFO`, `WARN` or `ERROR`.
type Level int

const (
	// DEBUG log level.
	DEBUG Level = iota - 1
	// INFO log level.
	INFO
	// WARN log level.
	WARN
	// ERROR log level.
	ERROR
)

func (level Level) String() string {
	switch level {
	case DEBUG:
		return "Debug"
	case INFO:
		return "Info"
	case WARN:
		return "Warn"
	case ERROR:
		return "Error"
	}
	return "Unknown"
}

// AsZap converts the Level to a zap level.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// LevelFromString parses an input string to a log level. The string must be one of `debug`,
// `info`, `warn` or `error`. The parsing is case-insensitive.
func LevelFromString(inp string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(inp)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return DEBUG, errors.Errorf("unknown log level: %q", inp)
}

// MarshalJSON converts a log level to a json string.
func (level Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(level.String()))
}

// UnmarshalJSON converts a json string to a log level.
func (level *Level) UnmarshalJSON(data []byte) (err error) {
	var levelStr string
	if err := json.Unmarshal(data, &levelStr); err != nil {
		return err
	}
	*level, err = LevelFromString(levelStr)
	return
}

// AtomicLevel is a level that can be concurrently accessed.
type AtomicLevel struct {
	val *atomic.Int32
}

// NewAtomicLevelAt creates a new AtomicLevel at the input `initLevel`.
func NewAtomicLevelAt(initLevel Level) AtomicLevel {
	ret := AtomicLevel{val: &atomic.Int32{}}
	ret.Set(initLevel)
	return ret
}

// Set changes the level.
func (level AtomicLevel) Set(newLevel Level) {
	level.val.Store(int32(newLevel))
}

// Get returns the level.
func (level AtomicLevel) Get() Level {
	return Level(level.val.Load())
}
