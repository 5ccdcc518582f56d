package identity

import "errors"

var (
	// ErrInvalidArgument is returned for caller input that can never succeed,
	// such as an empty username or password.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMalformedToken is returned when a token cannot be decoded at all.
	// A well-formed token with a bad signature is not an error.
	ErrMalformedToken = errors.New("malformed token")
	// ErrPersistence wraps failures of the session store or account backend.
	ErrPersistence = errors.New("persistence failure")
	// ErrLoginRateLimited is returned when the failed-login budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrPasswordResetRateLimited is returned when too many resets were requested.
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	// ErrPasswordResetDisabled is returned when no reset store is configured.
	ErrPasswordResetDisabled = errors.New("password reset disabled")
	// ErrPasswordPolicy is returned for passwords outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrAccountExists is returned when a username or email is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned by administrative calls on unknown ids.
	ErrAccountNotFound = errors.New("account not found")
	// ErrEngineNotReady is returned when an Engine or Identity was not built
	// through the Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")
)
