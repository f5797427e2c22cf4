package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// Probe is evaluated per request: nil means OK, an error is the failure
// reason written back to the caller.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

func orDefault(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}

// Fixed always passes or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	reason = orDefault(reason, "unhealthy")
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only when every non-nil probe passes and reports the first
// failure without evaluating the rest.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Flag fails with reason while fn reports false. The daemon feeds it
// Client.Ready so readiness tracks the initial sync.
func Flag(fn func() bool, reason string) CheckFunc {
	reason = orDefault(reason, "not ready")
	return func(context.Context) error {
		if fn != nil && fn() {
			return nil
		}
		return xerrors.New(reason)
	}
}

// ShutdownGate fails readiness once shutdown begins so load balancers and
// sidecar supervisors stop routing before the listeners close.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

func (g *ShutdownGate) Set(reason string) {
	r := orDefault(reason, "draining")
	g.reason.Store(&r)
}

func (g *ShutdownGate) Clear() { g.reason.Store(nil) }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
