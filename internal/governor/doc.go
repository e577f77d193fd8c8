// Package governor owns brute-force defence for administrator sign-in: a
// per-IP volume counter, a per-identifier failure counter with a timed
// lockout, and an ip+identifier credential-stuffing signal.
//
// Counters live in the shared counter store and only ever grow through its
// atomic increment. A lockout is a separate record holding an absolute
// expiry; it is compared with the wall clock on every read, so a lockout
// heals itself without a sweeper and cannot be extended by counter TTLs.
//
// Alerts are sent to the account's contact mailbox through the notify
// dispatcher and are de-duplicated with short-lived suppression markers.
package governor
