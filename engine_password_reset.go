package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/loginbox/identity/internal/rate"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a single-use reset token for the account that
// matches username (or its email). The caller delivers the token out of
// band. An unknown user returns "" and a nil error so callers cannot probe
// for accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: empty username", ErrInvalidArgument)
	}
	if !e.config.Reset.Enabled {
		return "", ErrPasswordResetDisabled
	}

	client := ClientFromContext(ctx)
	if e.limiter != nil {
		if err := e.limiter.AllowResetRequest(ctx, username, client.IP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricPasswordResetRateLimited)
				event := e.adminEvent(ctx, AuditPasswordResetRequest, "")
				event.Success = false
				event.Reason = reasonRateLimited
				e.emitAudit(ctx, event)
				return "", ErrPasswordResetRateLimited
			}
			return "", e.mapError(err)
		}
	}

	e.metricInc(MetricPasswordResetRequest)

	acc, err := e.directory.FindByUsername(ctx, username, true)
	if err != nil {
		return "", e.mapError(err)
	}
	if acc == nil {
		event := e.adminEvent(ctx, AuditPasswordResetRequest, "")
		event.Success = false
		event.Reason = reasonAccountNotFound
		e.emitAudit(ctx, event)
		return "", nil
	}

	token, err := e.directory.GeneratePasswordResetToken(ctx, acc.ID)
	if err != nil {
		return "", e.mapError(err)
	}

	e.emitAudit(ctx, e.adminEvent(ctx, AuditPasswordResetRequest, acc.ID))
	return token, nil
}

// ConfirmPasswordReset redeems token, sets newPassword and revokes every
// session of the account. A policy violation is reported before the token
// is spent. Unknown, expired or exhausted tokens return false.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (bool, error) {
	if token == "" || newPassword == "" {
		return false, fmt.Errorf("%w: token and password are required", ErrInvalidArgument)
	}
	if !e.config.Reset.Enabled {
		return false, ErrPasswordResetDisabled
	}

	hash, err := e.directory.HashPassword(newPassword)
	if err != nil {
		return false, e.mapError(err)
	}

	accountID, err := e.directory.RedeemPasswordResetToken(ctx, token)
	if err != nil {
		return false, e.mapError(err)
	}
	if accountID == "" {
		e.metricInc(MetricPasswordResetConfirmFailure)
		event := e.adminEvent(ctx, AuditPasswordResetConfirm, "")
		event.Success = false
		event.Reason = reasonInvalidToken
		e.emitAudit(ctx, event)
		return false, nil
	}

	updated, err := e.directory.UpdatePassword(ctx, accountID, hash)
	if err != nil {
		return false, e.mapError(err)
	}
	if !updated {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return false, nil
	}

	if _, err := e.RevokeSessions(ctx, accountID); err != nil {
		e.logger.Warn("revoking sessions after password reset", zap.String("account_id", accountID), zap.Error(err))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, e.adminEvent(ctx, AuditPasswordResetConfirm, accountID))
	return true, nil
}
