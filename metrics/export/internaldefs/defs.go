package internaldefs

import (
	identity "github.com/loginbox/identity"
)

// BucketCount matches the engine's validate latency histogram.
const BucketCount = 8

type CounterDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: identity.MetricLoginSuccess, Name: "identity_login_success_total", Help: "Successful logins."},
	{ID: identity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: identity.MetricLoginRateLimited, Name: "identity_login_rate_limited_total", Help: "Logins refused by the failed-login limiter."},
	{ID: identity.MetricValidateSuccess, Name: "identity_validate_success_total", Help: "Tokens that validated against their session."},
	{ID: identity.MetricValidateFailure, Name: "identity_validate_failure_total", Help: "Tokens with a missing session or bad signature."},
	{ID: identity.MetricMalformedToken, Name: "identity_malformed_token_total", Help: "Tokens that could not be decoded."},
	{ID: identity.MetricSessionCreated, Name: "identity_session_created_total", Help: "Sessions opened."},
	{ID: identity.MetricSessionRenewed, Name: "identity_session_renewed_total", Help: "Remember-me sessions renewed on validation."},
	{ID: identity.MetricSessionRevoked, Name: "identity_session_revoked_total", Help: "Sessions revoked other than by logout."},
	{ID: identity.MetricLogout, Name: "identity_logout_total", Help: "Logouts that removed a session."},
	{ID: identity.MetricAccountSwitched, Name: "identity_account_switched_total", Help: "Successful account switches."},
	{ID: identity.MetricPasswordChangeSuccess, Name: "identity_password_change_success_total", Help: "Successful password changes."},
	{ID: identity.MetricPasswordChangeFailure, Name: "identity_password_change_failure_total", Help: "Rejected password changes."},
	{ID: identity.MetricPasswordResetRequest, Name: "identity_password_reset_request_total", Help: "Password reset requests."},
	{ID: identity.MetricPasswordResetRateLimited, Name: "identity_password_reset_rate_limited_total", Help: "Password reset requests refused by the limiter."},
	{ID: identity.MetricPasswordResetConfirmSuccess, Name: "identity_password_reset_confirm_success_total", Help: "Redeemed password reset tokens."},
	{ID: identity.MetricPasswordResetConfirmFailure, Name: "identity_password_reset_confirm_failure_total", Help: "Unknown, expired or exhausted password reset tokens."},
	{ID: identity.MetricAccountCreated, Name: "identity_account_created_total", Help: "Accounts created."},
	{ID: identity.MetricAccountRemoved, Name: "identity_account_removed_total", Help: "Accounts removed."},
	{ID: identity.MetricAccountLocked, Name: "identity_account_locked_total", Help: "Accounts locked."},
	{ID: identity.MetricPersistenceError, Name: "identity_persistence_error_total", Help: "Session store or account backend failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: identity.MetricValidateLatency, Name: "identity_validate_latency_seconds", Help: "Token validation latency."},
}

// AuditDroppedName is exported next to the engine counters.
const AuditDroppedName = "identity_audit_dropped_total"

// UpperBounds are the finite bucket bounds in seconds; the last engine
// bucket is +Inf.
var UpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BoundSuffix names each bucket, +Inf included, for exporters without
// native histograms.
var BoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
