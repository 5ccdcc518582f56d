// Package middleware binds HTTP requests to identity sessions.
//
// [Authenticate] reads the auth token from the session cookie (or a Bearer
// Authorization header), validates it and stores the resulting
// [identity.Identity] in the request context. [RequireAuthenticated] does the
// same and rejects requests whose token does not validate.
//
// Handlers that log a user in or out use [SetTokenCookie] and
// [ClearTokenCookie] so the cookie attributes always follow the engine's
// CookieConfig.
package middleware
