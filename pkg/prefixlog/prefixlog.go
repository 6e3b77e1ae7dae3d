// Package prefixlog tags every message of a logs.Log with the name of the component that wrote it.
package prefixlog

import (
	"fmt"

	"github.com/cyclopcam/logs"
)

// Logger writes to the underlying log, but all messages are prefixed with a string of your choice
type Logger struct {
	Log    logs.Log
	Prefix string
}

// New creates a Logger whose messages start with "<prefix> "
func New(log logs.Log, prefix string) *Logger {
	// Avoid stacking prefixes when a component hands its logger down to a child
	if p, ok := log.(*Logger); ok {
		return &Logger{Log: p.Log, Prefix: p.Prefix + prefix + " "}
	}
	return &Logger{Log: log, Prefix: prefix + " "}
}

// Newf is New with a formatted prefix
func Newf(log logs.Log, format string, a ...any) *Logger {
	return New(log, fmt.Sprintf(format, a...))
}

func (l *Logger) Close() {
	l.Log.Close()
}

func (l *Logger) Debugf(format string, a ...any) {
	l.Log.Debugf(l.Prefix+format, a...)
}

func (l *Logger) Infof(format string, a ...any) {
	l.Log.Infof(l.Prefix+format, a...)
}

func (l *Logger) Warnf(format string, a ...any) {
	l.Log.Warnf(l.Prefix+format, a...)
}

func (l *Logger) Errorf(format string, a ...any) {
	l.Log.Errorf(l.Prefix+format, a...)
}

func (l *Logger) Criticalf(format string, a ...any) {
	l.Log.Criticalf(l.Prefix+format, a...)
}
