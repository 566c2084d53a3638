// Package observability provides logger implementations.
package observability

import (
	"encoding/json"
	"io"
	"log"

	"go.uber.org/zap"
)

// WriterLogger logs JSON lines to an io.Writer. Used in tests and as the
// fallback when no zap logger is configured.
type WriterLogger struct {
	l *log.Logger
}

// NewWriterLogger constructs a WriterLogger.
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{l: log.New(w, "", log.LstdFlags)}
}

// Info logs an info message.
func (s *WriterLogger) Info(msg string, fields map[string]any) {
	s.log("info", msg, fields)
}

// Error logs an error message.
func (s *WriterLogger) Error(msg string, fields map[string]any) {
	s.log("error", msg, fields)
}

func (s *WriterLogger) log(level string, msg string, fields map[string]any) {
	if s == nil || s.l == nil {
		return
	}
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for key, value := range fields {
		payload[key] = value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.l.Println(msg)
		return
	}
	s.l.Println(string(data))
}

// ZapLogger adapts a zap logger to the Logger interface.
type ZapLogger struct {
	base *zap.Logger
}

// NewZapLogger constructs the production logger.
func NewZapLogger() (*ZapLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{base: base}, nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base}
}

// Info logs an info message.
func (z *ZapLogger) Info(msg string, fields map[string]any) {
	if z == nil || z.base == nil {
		return
	}
	z.base.Info(msg, zapFields(fields)...)
}

// Error logs an error message.
func (z *ZapLogger) Error(msg string, fields map[string]any) {
	if z == nil || z.base == nil {
		return
	}
	z.base.Error(msg, zapFields(fields)...)
}

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error {
	if z == nil || z.base == nil {
		return nil
	}
	return z.base.Sync()
}

func zapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		out = append(out, zap.Any(key, value))
	}
	return out
}
