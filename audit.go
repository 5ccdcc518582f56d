package identity

import (
	"context"
	"io"

	"github.com/loginbox/identity/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one audited identity operation.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events over a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs events through a zap logger.
type ZapSink = audit.ZapSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewZapSink(logger *zap.Logger) *ZapSink { return audit.NewZapSink(logger) }

// Audit event types.
const (
	AuditLoginSuccess         = "login_success"
	AuditLoginFailure         = "login_failure"
	AuditLogout               = "logout"
	AuditValidateFailure      = "validate_failure"
	AuditSessionRenewed       = "session_renewed"
	AuditSessionRevoked       = "session_revoked"
	AuditAccountSwitched      = "account_switched"
	AuditPasswordChanged      = "password_changed"
	AuditPasswordResetRequest = "password_reset_request"
	AuditPasswordResetConfirm = "password_reset_confirm"
	AuditAccountCreated       = "account_created"
	AuditAccountRemoved       = "account_removed"
	AuditAccountLocked        = "account_locked"
	AuditAccountUnlocked      = "account_unlocked"
)

// Audit failure reasons.
const (
	reasonInvalidCredentials = "invalid_credentials"
	reasonRateLimited        = "rate_limited"
	reasonMalformedToken     = "malformed_token"
	reasonBadSignature       = "bad_signature"
	reasonSessionNotFound    = "session_not_found"
	reasonAccountLocked      = "account_locked"
	reasonAccountNotFound    = "account_not_found"
	reasonInvalidToken       = "invalid_token"
)

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.audit.Emit(ctx, event)
}
