// Package session persists login sessions and the per-session salts that sign
// their tokens.
//
// # Binary encoding
//
// Records are stored in Redis as a compact versioned binary format. The version
// byte is checked on decode so future layouts can be added without
// reinterpreting old ones.
//
// # Renewal
//
// Only remember-me sessions are renewed, and only once their last access is
// older than the configured renewal threshold. Every other read is write-free.
//
// # Architecture boundaries
//
// This package owns the Redis [Store] and the [Record] model. It does NOT parse
// tokens or decide whether a caller is authenticated; that belongs to the
// identity engine.
package session
