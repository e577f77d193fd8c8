// Package hospitalauth authenticates hospital administrators and protects
// their accounts.
//
// A login is a credential and facility check followed by a mailed one-time
// code. Failed attempts feed per-IP, per-identifier and stuffing counters
// that throttle callers and lock accounts for a fixed period. A three-step
// token-chained password reset re-establishes identity before a credential
// change. Authenticated sessions receive a short-lived access token and a
// refresh token, delivered as cookies and in the response body.
//
// # Architecture boundaries
//
// hospitalauth is the public surface. It exposes [Engine], [Builder],
// [Config] and the request and result types. Component logic (counters,
// governor, challenges, reset state machine, audit) lives under internal/
// and is never exported. The account, notify, password and token packages
// are public because callers implement or configure them.
//
// # Operation pipeline
//
// Every Engine operation runs its handler inside a fixed interceptor chain:
// tracing, audit, IP throttle and failure counting, then the lockout check.
// Password reset steps and token refresh skip the lockout check.
//
// Engine methods are safe for concurrent use after [Builder.Build].
package hospitalauth
