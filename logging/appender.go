package logging

import (
	"io"
	"os"

	"go.uber.org/zap/zapcore"
)

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so
// zap cores (including observers) can be used directly.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed.
	Sync() error
}

// ConsoleAppender writes console encoded lines to an io.Writer.
type ConsoleAppender struct {
	io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return NewWriterAppender(os.Stdout)
}

// NewWriterAppender creates a console appender writing to the given writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer, zapcore.NewConsoleEncoder(newEncoderConfig())}
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = appender.Writer.Write(buf.Bytes())
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}
