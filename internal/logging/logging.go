// Package logging wraps zap behind the teacher's Logger interface shape
// (pkg/orchestrator/types.go: Debug/Info/Warn/Error(msg string, args
// ...interface{})), grounded on the structured zap.String/zap.Any field
// usage seen throughout mansuri-sabit-zoro's voicebot handler, adapted
// here from gin-request fields to call/session fields.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the narrow logging interface the rest of this relay depends
// on, matching the teacher's pkg/orchestrator.Logger shape so call sites
// read identically regardless of backend.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, info level) wrapped
// as a Logger. Falls back to a no-op logger if zap fails to build, which
// in practice only happens under a broken environment (e.g. an
// unwritable stderr), matching the teacher's NoOpLogger fallback pattern.
func New() Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		return NoOp{}
	}
	return &zapLogger{sugar: zl.Sugar()}
}

func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a Logger that prepends args to every subsequent log call,
// used to scope a logger to a call ID / session ID for the lifetime of a
// session.
func (l *zapLogger) With(args ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(args...)}
}

// NoOp discards every log call, matching the teacher's NoOpLogger, used
// in tests that don't want log output.
type NoOp struct{}

func (NoOp) Debug(string, ...any) {}
func (NoOp) Info(string, ...any)  {}
func (NoOp) Warn(string, ...any)  {}
func (NoOp) Error(string, ...any) {}
func (NoOp) With(...any) Logger   { return NoOp{} }
