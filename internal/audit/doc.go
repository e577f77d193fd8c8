// Package audit implements the security audit trail: a fixed event schema,
// pluggable sinks, an asynchronous dispatcher, and a pipeline interceptor that
// records one event per security operation.
//
// The interceptor never swallows errors: whatever the wrapped operation
// returns is recorded and returned unchanged.
package audit
