package identity

import (
	"context"
	"fmt"

	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/session"
)

// Token returns the bound auth token, or "" after logout.
func (id *Identity) Token() string { return id.token }

func (id *Identity) AccountID() string { return id.accountID }

// PersonID is nil for locked accounts and accounts without a person.
func (id *Identity) PersonID() *string {
	if id.personID == nil {
		return nil
	}
	p := *id.personID
	return &p
}

func (id *Identity) SessionID() string { return id.sessionID }

// RememberMe is known after Login, after a renewal and after SessionInfo.
func (id *Identity) RememberMe() bool { return id.rememberMe }

func (id *Identity) State() State { return id.state }

func (id *Identity) Client() ClientInfo { return id.client }

// Account loads the authenticated account once per Identity. It returns nil
// when not authenticated or when the account no longer exists.
func (id *Identity) Account(ctx context.Context) (*directory.Account, error) {
	e, err := id.ready()
	if err != nil {
		return nil, err
	}
	if id.accountID == "" {
		return nil, nil
	}
	if id.account != nil && id.account.ID == id.accountID {
		return id.account, nil
	}

	acc, err := e.directory.ByID(ctx, id.accountID)
	if err != nil {
		return nil, e.mapError(err)
	}
	id.account = acc
	return acc, nil
}

func (id *Identity) IsLocked(ctx context.Context) (bool, error) {
	acc, err := id.Account(ctx)
	if err != nil || acc == nil {
		return false, err
	}
	return acc.Locked, nil
}

func (id *Identity) IsAdmin(ctx context.Context) (bool, error) {
	acc, err := id.Account(ctx)
	if err != nil || acc == nil {
		return false, err
	}
	return acc.IsAdmin, nil
}

func (id *Identity) Title(ctx context.Context) (string, error) {
	acc, err := id.Account(ctx)
	if err != nil || acc == nil {
		return "", err
	}
	return acc.Title, nil
}

// Username returns the account username. With emailFallback an account
// without a username reports its person's email instead.
func (id *Identity) Username(ctx context.Context, emailFallback bool) (string, error) {
	acc, err := id.Account(ctx)
	if err != nil || acc == nil {
		return "", err
	}
	if acc.Username != "" || !emailFallback || acc.PersonID == nil {
		return acc.Username, nil
	}

	person, err := id.engine.directory.Person(ctx, *acc.PersonID)
	if err != nil {
		return "", id.engine.mapError(err)
	}
	if person == nil {
		return "", nil
	}
	return person.Email, nil
}

// SessionInfo returns the bound session with its location label, or nil.
func (id *Identity) SessionInfo(ctx context.Context) (*session.Record, error) {
	e, err := id.ready()
	if err != nil {
		return nil, err
	}
	if id.accountID == "" || id.sessionID == "" {
		return nil, nil
	}

	rec, err := e.sessions.Info(ctx, id.accountID, id.sessionID)
	if err != nil {
		e.metricInc(MetricPersistenceError)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if rec != nil {
		id.rememberMe = rec.RememberMe
	}
	return rec, nil
}

// ActiveSessions lists every live session of the authenticated account.
func (id *Identity) ActiveSessions(ctx context.Context) ([]session.Record, error) {
	e, err := id.ready()
	if err != nil {
		return nil, err
	}
	ok, err := id.authenticated(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []session.Record{}, nil
	}

	records, err := e.sessions.ListActive(ctx, id.accountID)
	if err != nil {
		e.metricInc(MetricPersistenceError)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return records, nil
}

// RemoveSession revokes another session of the authenticated account.
// Removing the bound session is a Logout.
func (id *Identity) RemoveSession(ctx context.Context, sessionID string) (bool, error) {
	e, err := id.ready()
	if err != nil {
		return false, err
	}
	if sessionID == "" {
		return false, fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	}
	if ok, err := id.authenticated(ctx); err != nil || !ok {
		return false, err
	}
	if sessionID == id.sessionID {
		return true, id.Logout(ctx)
	}

	removed, err := e.sessions.Remove(ctx, id.accountID, sessionID)
	if err != nil {
		e.metricInc(MetricPersistenceError)
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if removed {
		e.metricInc(MetricSessionRevoked)
		event := id.auditEvent(AuditSessionRevoked, true, "")
		event.Metadata = map[string]string{"revoked_session_id": sessionID}
		e.emitAudit(ctx, event)
	}
	return removed, nil
}

func (id *Identity) currentRememberMe(ctx context.Context) (bool, error) {
	if id.rememberMe {
		return true, nil
	}
	rec, err := id.SessionInfo(ctx)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.RememberMe, nil
}
