package core

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ZerologLogger writes through a zerolog.Logger. Its minimum level can be
// changed at runtime with SetLevel.
type ZerologLogger struct {
	zl  zerolog.Logger
	min atomic.Int32
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(zl zerolog.Logger) *ZerologLogger {
	l := &ZerologLogger{zl: zl}
	l.min.Store(int32(zerolog.TraceLevel))
	return l
}

// NewConsoleLogger creates a human-readable logger writing to w at the given
// level ("debug", "info", "warn", "error"). A nil w means stderr.
func NewConsoleLogger(w io.Writer, level string) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.ErrorFieldName = "err"
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	zl := zerolog.New(cw).With().Timestamp().Logger()
	l := NewZerologLogger(zl)
	l.SetLevel(level)
	return l
}

// NewJSONLogger creates a logger emitting one JSON object per line.
func NewJSONLogger(w io.Writer, level string) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.ErrorFieldName = "err"
	zl := zerolog.New(w).With().Timestamp().Logger()
	l := NewZerologLogger(zl)
	l.SetLevel(level)
	return l
}

// NewDefaultLogger creates the logger schedulers use when none is configured.
func NewDefaultLogger() *ZerologLogger {
	return NewConsoleLogger(os.Stderr, "info")
}

// With returns a logger that adds fields to every entry.
func (l *ZerologLogger) With(fields ...Field) *ZerologLogger {
	c := l.zl.With()
	for _, f := range fields {
		c = c.Interface(f.Key, f.Value)
	}
	child := NewZerologLogger(c.Logger())
	child.min.Store(l.min.Load())
	return child
}

// SetLevel changes the minimum level. It is safe to call concurrently with logging.
func (l *ZerologLogger) SetLevel(level string) {
	l.min.Store(int32(ParseLevel(level)))
}

// Enabled reports whether entries at level would be written.
func (l *ZerologLogger) Enabled(level zerolog.Level) bool {
	return level >= zerolog.Level(l.min.Load())
}

func (l *ZerologLogger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *ZerologLogger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *ZerologLogger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *ZerologLogger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l *ZerologLogger) log(level zerolog.Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}
	e := l.zl.WithLevel(level)
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			e.AnErr(f.Key, v)
		case string:
			e.Str(f.Key, v)
		case int:
			e.Int(f.Key, v)
		case bool:
			e.Bool(f.Key, v)
		case time.Duration:
			e.Dur(f.Key, v)
		case Directive:
			e.Str(f.Key, v.String())
		default:
			e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}

// ParseLevel maps a level name to a zerolog level; unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "DISABLED", "OFF":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
