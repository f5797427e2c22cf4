package log

import "context"

// nopLogger discards everything. It is a comparable zero-size value so
// callers can check l == Nop().
type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any)        {}
func (nopLogger) Info(context.Context, string, ...any)         {}
func (nopLogger) Warn(context.Context, string, ...any)         {}
func (nopLogger) Error(context.Context, error, string, ...any) {}
func (nopLogger) Sync() error                                  { return nil }
func (n nopLogger) With(...any) Logger                         { return n }

func Nop() Logger { return nopLogger{} }

// OrNop returns l, or Nop when l is nil. Option structs call it so an
// unset Logger never needs a nil check.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
