package logging

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface rather than a concrete logger so tests
// can inject a recorder and library consumers can bridge to their own stack.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// componentLogger writes leveled lines to a shared standard logger, prefixed
// with the component name.
type componentLogger struct {
	component string
	debug     bool
}

var (
	stdMu  sync.Mutex
	stdOut = log.New(os.Stderr, "", log.LstdFlags)
)

// NewComponentLogger returns a logger scoped to a component, writing to
// stderr. Debug lines are emitted only when WEAVER_DEBUG is set.
func NewComponentLogger(component string) Logger {
	return &componentLogger{
		component: component,
		debug:     os.Getenv("WEAVER_DEBUG") != "",
	}
}

func (l *componentLogger) printf(level, format string, args ...any) {
	stdMu.Lock()
	defer stdMu.Unlock()
	stdOut.Printf("[%s] %s: %s", level, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) {
	if l.debug {
		l.printf("DEBUG", format, args...)
	}
}

func (l *componentLogger) Info(format string, args ...any)  { l.printf("INFO", format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.printf("WARN", format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.printf("ERROR", format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
