// Package health provides composable probes and the HTTP handlers behind
// /-/healthy and /-/ready on the ops listener.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static).
// [CheckFunc] adapts a plain function and [Flag] a boolean getter such as
// the client's Ready.
//
// [ShutdownGate] fails readiness as soon as a drain starts so consumers
// stop calling the sidecar before the listeners close.
package health
