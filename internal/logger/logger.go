// Package logger wraps zerolog with the component/fields calling convention
// used throughout the pipeline.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Fields carries structured key/value pairs attached to a log event
type Fields map[string]interface{}

// Logger is a component-aware structured logger
type Logger struct {
	logger zerolog.Logger
}

// New creates a JSON logger writing to w at the given level
func New(w io.Writer, level zerolog.Level) *Logger {
	l := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: l}
}

// NewConsole creates a human-readable logger on stderr
func NewConsole(level zerolog.Level) *Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// With returns a child logger that always carries the given fields
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

// Debug logs message at debug level, tagged with component and fields
func (l *Logger) Debug(component, message string, fields Fields) {
	l.emit(l.logger.Debug(), component, fields).Msg(message)
}

// Info logs message at info level
func (l *Logger) Info(component, message string, fields Fields) {
	l.emit(l.logger.Info(), component, fields).Msg(message)
}

// Warning logs message at warn level
func (l *Logger) Warning(component, message string, fields Fields) {
	l.emit(l.logger.Warn(), component, fields).Msg(message)
}

// Error logs err at error level under the message "operation failed"
func (l *Logger) Error(component string, err error, fields Fields) {
	l.emit(l.logger.Error().Err(err), component, fields).Msg("operation failed")
}

func (l *Logger) emit(event *zerolog.Event, component string, fields Fields) *zerolog.Event {
	event = event.Str("component", component)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}
