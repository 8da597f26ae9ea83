package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var errs []error
	for _, appender := range imp.appenders {
		if err := appender.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

// log pairs up keysAndValues into zap fields and hands the entry to every appender. Keys are
// stringified, values are zap.Any.
func (imp *impl) log(level Level, msg string, keysAndValues ...interface{}) {
	if level < imp.level.Get() {
		return
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}

	fields := make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		var keyStr string
		if stringer, ok := keysAndValues[keyIdx].(fmt.Stringer); ok {
			keyStr = stringer.String()
		} else {
			keyStr = fmt.Sprintf("%v", keysAndValues[keyIdx])
		}

		if keyIdx+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(keyStr, keysAndValues[keyIdx+1]))
		} else {
			fields = append(fields, zap.Any(keyStr, errors.New("unpaired log key")))
		}
	}

	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.log(DEBUG, msg, keysAndValues...)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.log(INFO, msg, keysAndValues...)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.log(WARN, msg, keysAndValues...)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.log(ERROR, msg, keysAndValues...)
}

// getCaller returns the file/line of the code that called one of the public log methods.
func getCaller() zapcore.EntryCaller {
	var ok bool
	var entryCaller zapcore.EntryCaller
	const skipToLogCaller = 3
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if runtimeFunc := runtime.FuncForPC(entryCaller.PC); runtimeFunc != nil {
		entryCaller.Function = runtimeFunc.Name()
	}
	return entryCaller
}
