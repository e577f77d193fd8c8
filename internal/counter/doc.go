// Package counter provides the TTL-capable key/value substrate used for every
// rate, lockout, challenge and reset record.
//
// # Atomicity
//
// Increment is a single Lua script (INCR + PEXPIRE on first hit), so
// concurrent failures against the same key never lose updates. Update runs an
// optimistic WATCH/MULTI transaction with bounded retries. No operation spans
// more than one key.
//
// # Key namespace
//
// Every key is prefixed with the store prefix ("ha" by default) followed by
// the component namespace chosen by the caller (for example "gov:ip:").
package counter
