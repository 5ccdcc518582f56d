package identity

import (
	"context"
	"fmt"

	"github.com/loginbox/identity/directory"
	"go.uber.org/zap"
)

// CreateAccount registers an account and its person and returns the new
// account id. The username is derived from the email.
func (e *Engine) CreateAccount(ctx context.Context, email, firstName, lastName, pw string) (string, error) {
	if email == "" || pw == "" {
		return "", fmt.Errorf("%w: email and password are required", ErrInvalidArgument)
	}

	accountID, err := e.directory.Create(ctx, email, firstName, lastName, pw)
	if err != nil {
		return "", e.mapError(err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, e.adminEvent(ctx, AuditAccountCreated, accountID))
	e.logger.Info("account created", zap.String("account_id", accountID))
	return accountID, nil
}

// RemoveAccount revokes every session of the account, then deletes it and
// its persons.
func (e *Engine) RemoveAccount(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, fmt.Errorf("%w: empty account id", ErrInvalidArgument)
	}
	if _, err := e.RevokeSessions(ctx, accountID); err != nil {
		return false, err
	}

	removed, err := e.directory.Remove(ctx, accountID)
	if err != nil {
		return false, e.mapError(err)
	}
	if removed {
		e.metricInc(MetricAccountRemoved)
		e.emitAudit(ctx, e.adminEvent(ctx, AuditAccountRemoved, accountID))
	}
	return removed, nil
}

// LockAccount marks the account locked. Sessions opened afterwards do not
// expose its person id, and it can neither switch accounts nor change its
// password.
func (e *Engine) LockAccount(ctx context.Context, accountID string) (bool, error) {
	changed, err := e.directory.SetLocked(ctx, accountID, true)
	if err != nil {
		return false, e.mapError(err)
	}
	if changed {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, e.adminEvent(ctx, AuditAccountLocked, accountID))
	}
	return changed, nil
}

func (e *Engine) UnlockAccount(ctx context.Context, accountID string) (bool, error) {
	changed, err := e.directory.SetLocked(ctx, accountID, false)
	if err != nil {
		return false, e.mapError(err)
	}
	if changed {
		e.emitAudit(ctx, e.adminEvent(ctx, AuditAccountUnlocked, accountID))
	}
	return changed, nil
}

func (e *Engine) SetAdmin(ctx context.Context, accountID string, admin bool) (bool, error) {
	changed, err := e.directory.SetAdmin(ctx, accountID, admin)
	return changed, e.mapError(err)
}

func (e *Engine) UpdateTitle(ctx context.Context, accountID, title string) (bool, error) {
	changed, err := e.directory.UpdateTitle(ctx, accountID, title)
	return changed, e.mapError(err)
}

// UpdateUsername renames the account; a taken name returns ErrAccountExists.
func (e *Engine) UpdateUsername(ctx context.Context, accountID, username string) (bool, error) {
	changed, err := e.directory.UpdateUsername(ctx, accountID, username)
	return changed, e.mapError(err)
}

// Account returns the account with accountID, or nil.
func (e *Engine) Account(ctx context.Context, accountID string) (*directory.Account, error) {
	acc, err := e.directory.ByID(ctx, accountID)
	return acc, e.mapError(err)
}

// ListAccounts pages through accounts; count <= 0 uses the default page size.
func (e *Engine) ListAccounts(ctx context.Context, start, count int) ([]directory.Account, error) {
	accounts, err := e.directory.List(ctx, start, count)
	return accounts, e.mapError(err)
}

func (e *Engine) CountAccounts(ctx context.Context) (int, error) {
	n, err := e.directory.Count(ctx)
	return n, e.mapError(err)
}

func (e *Engine) adminEvent(ctx context.Context, kind, accountID string) AuditEvent {
	client := ClientFromContext(ctx)
	return AuditEvent{
		Type:      kind,
		AccountID: accountID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Success:   true,
	}
}
