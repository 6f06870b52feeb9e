package collab

import (
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Level is the seven-step severity scale the core logs at, mapped onto
// logiface's syslog-derived Level enum (itself modeled on RFC 5424, the
// same scale zerolog's adapter already speaks).
type Level int

const (
	LevelFatal Level = iota
	LevelError
	LevelWarn
	LevelNotice
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) logifaceLevel() logiface.Level {
	switch l {
	case LevelFatal:
		// LevelAlert is logiface's recommended mapping for "fatal" loggers
		// that os.Exit(1) after writing (as zerolog's Fatal level does) —
		// LevelEmergency is reserved for implementations that panic().
		return logiface.LevelAlert
	case LevelError:
		return logiface.LevelError
	case LevelWarn:
		return logiface.LevelWarning
	case LevelNotice:
		return logiface.LevelNotice
	case LevelInfo:
		return logiface.LevelInformational
	case LevelDebug:
		return logiface.LevelDebug
	case LevelTrace:
		return logiface.LevelTrace
	default:
		return logiface.LevelInformational
	}
}

// Field is one key/value pair attached to a log record.
type Field struct {
	Key   string
	Value any
}

// Logger is the core's log(level, msg, fields...) sink, built over
// logiface's leveled builder API and a zerolog writer, via
// izerolog.WithZerolog.
type Logger struct {
	base *logiface.Logger[*izerolog.Event]
}

// NewLogger builds a Logger writing through w at the given minimum
// level (records below it are cheaply dropped without formatting).
func NewLogger(w zerolog.Logger, level Level) *Logger {
	return &Logger{
		base: logiface.New[*izerolog.Event](
			izerolog.WithZerolog(w),
			logiface.WithLevel[*izerolog.Event](level.logifaceLevel()),
		),
	}
}

// Log emits msg at level with fields attached, a no-op if level is
// disabled for this logger.
func (l *Logger) Log(level Level, msg string, fields ...Field) {
	b := l.base.Build(level.logifaceLevel())
	for _, f := range fields {
		b = b.Field(f.Key, f.Value)
	}
	b.Log(msg)
}

// Fatal, Error, Warn, Notice, Info, Debug and Trace are convenience
// wrappers over Log for their respective levels.
func (l *Logger) Fatal(msg string, fields ...Field)  { l.Log(LevelFatal, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field)  { l.Log(LevelError, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)   { l.Log(LevelWarn, msg, fields...) }
func (l *Logger) Notice(msg string, fields ...Field) { l.Log(LevelNotice, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)   { l.Log(LevelInfo, msg, fields...) }
func (l *Logger) Debug(msg string, fields ...Field)  { l.Log(LevelDebug, msg, fields...) }
func (l *Logger) Trace(msg string, fields ...Field)  { l.Log(LevelTrace, msg, fields...) }
