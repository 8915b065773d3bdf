package logging

import "testing"

type recordLogger struct {
	infos  []string
	warns  []string
	errors []string
}

func (r *recordLogger) Debug(format string, args ...any) {}
func (r *recordLogger) Info(format string, args ...any)  { r.infos = append(r.infos, format) }
func (r *recordLogger) Warn(format string, args ...any)  { r.warns = append(r.warns, format) }
func (r *recordLogger) Error(format string, args ...any) { r.errors = append(r.errors, format) }

func TestOrNopNeverReturnsNil(t *testing.T) {
	logger := OrNop(nil)
	if logger == nil {
		t.Fatal("OrNop(nil) must return a usable logger")
	}
	// Must not panic.
	logger.Info("hello %s", "world")

	var typedNil *recordLogger
	if got := OrNop(typedNil); IsNil(got) {
		t.Fatal("OrNop must replace a typed nil")
	}
}

func TestIsNil(t *testing.T) {
	if !IsNil(nil) {
		t.Fatal("nil interface is nil")
	}
	var typedNil *recordLogger
	if !IsNil(typedNil) {
		t.Fatal("typed nil pointer is nil")
	}
	if IsNil(&recordLogger{}) {
		t.Fatal("concrete logger is not nil")
	}
}

func TestMultiFansOut(t *testing.T) {
	a := &recordLogger{}
	b := &recordLogger{}
	logger := Multi(a, nil, b)
	logger.Warn("watch out")
	if len(a.warns) != 1 || len(b.warns) != 1 {
		t.Fatalf("both loggers must receive the message, got %d and %d", len(a.warns), len(b.warns))
	}
}

func TestMultiWithNoUsableLoggersIsNop(t *testing.T) {
	logger := Multi(nil)
	// Must not panic.
	logger.Error("nobody listening")
}
