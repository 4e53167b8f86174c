// Package logging wraps zerolog in the module-scoped logger shape the
// teacher repo's stages use (telemetry.Logger.WithModule, typed field
// helpers), backed directly by zerolog rather than a private package.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger is a module-scoped structured logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a root Logger writing to w. If w is a terminal, output is
// console-pretty; otherwise it is JSON lines.
func New(w io.Writer) Logger {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return Logger{zl: zl}
}

// WithModule returns a logger that tags every event with module=name.
func (l Logger) WithModule(name string) Logger {
	return Logger{zl: l.zl.With().Str("module", name).Logger()}
}

// Field is a typed key/value pair applied to a log event.
type Field func(e *zerolog.Event) *zerolog.Event

// Str builds a string field.
func Str(key, value string) Field {
	return func(e *zerolog.Event) *zerolog.Event { return e.Str(key, value) }
}

// Int builds an integer field.
func Int(key string, value int) Field {
	return func(e *zerolog.Event) *zerolog.Event { return e.Int(key, value) }
}

// Dur builds a duration field.
func Dur(key string, value time.Duration) Field {
	return func(e *zerolog.Event) *zerolog.Event { return e.Dur(key, value) }
}

// Err builds an error field.
func Err(err error) Field {
	return func(e *zerolog.Event) *zerolog.Event { return e.Err(err) }
}

// Trace logs at trace level.
func (l Logger) Trace(msg string, fields ...Field) { l.log(l.zl.Trace(), msg, fields) }

// Debug logs at debug level.
func (l Logger) Debug(msg string, fields ...Field) { l.log(l.zl.Debug(), msg, fields) }

// Info logs at info level.
func (l Logger) Info(msg string, fields ...Field) { l.log(l.zl.Info(), msg, fields) }

// Warn logs at warn level.
func (l Logger) Warn(msg string, fields ...Field) { l.log(l.zl.Warn(), msg, fields) }

// Error logs at error level.
func (l Logger) Error(msg string, fields ...Field) { l.log(l.zl.Error(), msg, fields) }

func (l Logger) log(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		e = f(e)
	}
	e.Msg(msg)
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger {
	return Logger{zl: zerolog.Nop()}
}
