package observability

import (
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a structured JSON logger writing to w.
func NewZerologLogger(w io.Writer, service string) *ZerologLogger {
	logger := zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	return &ZerologLogger{logger: logger}
}

// Debug emits a debug-level entry with the attached fields.
func (l *ZerologLogger) Debug(msg string, fields ...Field) {
	l.emit(l.logger.Debug(), msg, fields)
}

// Info emits an info-level entry with the attached fields.
func (l *ZerologLogger) Info(msg string, fields ...Field) {
	l.emit(l.logger.Info(), msg, fields)
}

// Warn emits a warn-level entry with the attached fields.
func (l *ZerologLogger) Warn(msg string, fields ...Field) {
	l.emit(l.logger.Warn(), msg, fields)
}

// Error emits an error-level entry with the attached fields.
func (l *ZerologLogger) Error(msg string, fields ...Field) {
	l.emit(l.logger.Error(), msg, fields)
}

func (l *ZerologLogger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, field := range fields {
		event = event.Interface(field.Key, field.Value)
	}
	event.Msg(msg)
}

var _ Logger = (*ZerologLogger)(nil)
