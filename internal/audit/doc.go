// Package audit relays identity events (logins, logouts, password changes,
// account administration) to a pluggable sink without blocking the caller
// longer than the configured buffering allows.
//
// The package does not decide which events exist; the engine does.
package audit
