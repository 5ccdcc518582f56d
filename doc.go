// Package identity authenticates accounts and manages their login sessions.
//
// An [Engine] is built once through [Builder.Build] and shared by every
// request. Each request gets its own [Identity] from [Engine.Identity]; the
// Identity binds the caller's auth token, validates it against the session
// store and exposes the authenticated account.
//
// # Tokens
//
// An auth token is an HS256 JWT whose payload names the account, the
// person (absent for locked accounts) and the session. It is signed with a
// random salt stored only in the session record, so removing the session
// revokes the token.
//
// # Sessions
//
// Sessions live in Redis (default) or PostgreSQL. Remember-me sessions use
// the long lifetime and are renewed lazily on validation once their last
// access is older than the renewal threshold.
//
// # Errors
//
// Expected outcomes such as wrong credentials or a revoked session are
// reported as false with a nil error. Errors wrap one of the sentinels in
// errors.go and can be matched with errors.Is.
package identity
