package logging

import "testing"

func TestNoOpSatisfiesLoggerWithoutPanicking(t *testing.T) {
	var l Logger = NoOp{}
	l.Debug("debug", "k", "v")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	scoped := l.With("call_id", "abc")
	if scoped == nil {
		t.Fatal("expected With to return a non-nil Logger")
	}
	scoped.Info("scoped info")
}

func TestNewReturnsAUsableLogger(t *testing.T) {
	l := New()
	if l == nil {
		t.Fatal("expected New to return a non-nil Logger")
	}
	l.Info("startup", "port", "8080")
}
