package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loginbox/identity/authtoken"
	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/internal/random"
	"github.com/loginbox/identity/internal/rate"
	"github.com/loginbox/identity/session"
	"go.uber.org/zap"
)

// State is the lifecycle position of an Identity.
type State uint8

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateSwitching
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSwitching:
		return "switching"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Identity is the per-request session manager. It is created by
// Engine.Identity and is not safe for concurrent use.
//
// Expected failures (bad credentials, bad signature, missing session)
// report false with a nil error. Errors are reserved for invalid input,
// malformed tokens, rate limiting and backend faults.
type Identity struct {
	engine *Engine
	client ClientInfo

	state      State
	token      string
	accountID  string
	personID   *string
	sessionID  string
	rememberMe bool

	account *directory.Account
}

// Login authenticates username and opens a new session. It returns false
// when the bound token is already valid or when the credentials are wrong;
// no session is written in either case.
func (id *Identity) Login(ctx context.Context, username, pw string, rememberMe bool) (bool, error) {
	e, err := id.ready()
	if err != nil {
		return false, err
	}
	authenticated, err := id.authenticated(ctx)
	if err != nil {
		return false, err
	}
	if authenticated {
		return false, nil
	}
	if username == "" || pw == "" {
		return false, fmt.Errorf("%w: username and password are required", ErrInvalidArgument)
	}

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, username, id.client.IP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, id.auditEvent(AuditLoginFailure, false, reasonRateLimited))
				return false, ErrLoginRateLimited
			}
			return false, e.mapError(err)
		}
	}

	prev := id.state
	id.state = StateAuthenticating

	ok, err := e.directory.Authenticate(ctx, username, pw)
	if err != nil {
		id.state = prev
		return false, e.mapError(err)
	}
	if !ok {
		id.state = prev
		id.loginFailed(ctx, username, reasonInvalidCredentials)
		return false, nil
	}

	acc, err := e.directory.FindByUsername(ctx, username, true)
	if err != nil {
		id.state = prev
		return false, e.mapError(err)
	}
	if acc == nil {
		id.state = prev
		id.loginFailed(ctx, username, reasonAccountNotFound)
		return false, nil
	}

	if err := id.openSession(ctx, acc, rememberMe); err != nil {
		id.state = prev
		return false, err
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, username); err != nil {
			e.logger.Warn("login limiter reset failed", zap.Error(err))
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, id.auditEvent(AuditLoginSuccess, true, ""))
	e.logger.Debug("login",
		zap.String("account_id", id.accountID),
		zap.String("session_id", id.sessionID),
		zap.Bool("remember_me", rememberMe),
	)
	return true, nil
}

func (id *Identity) loginFailed(ctx context.Context, username, reason string) {
	e := id.engine
	e.metricInc(MetricLoginFailure)
	if e.limiter != nil {
		if err := e.limiter.RecordLoginFailure(ctx, username, id.client.IP); err != nil {
			e.logger.Warn("login limiter update failed", zap.Error(err))
		}
	}
	event := id.auditEvent(AuditLoginFailure, false, reason)
	event.Metadata = map[string]string{"username": username}
	e.emitAudit(ctx, event)
}

// openSession writes a session for acc under a fresh salt and binds the
// resulting token. A locked account never exposes its person id.
func (id *Identity) openSession(ctx context.Context, acc *directory.Account, rememberMe bool) error {
	e := id.engine

	salt, err := random.NewSalt()
	if err != nil {
		return fmt.Errorf("%w: salt: %v", ErrPersistence, err)
	}

	var personID *string
	if !acc.Locked && acc.PersonID != nil {
		p := *acc.PersonID
		personID = &p
	}

	sessionID, err := e.sessions.Create(ctx, session.NewSession{
		Salt:       salt,
		AccountID:  acc.ID,
		PersonID:   personID,
		RememberMe: rememberMe,
		IP:         id.client.IP,
		UserAgent:  id.client.UserAgent,
		Now:        e.now(),
	})
	if err != nil {
		e.metricInc(MetricPersistenceError)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	token, err := e.codec.Generate(authtoken.Payload{Acc: acc.ID, Prs: personID, SSID: sessionID}, salt)
	if err != nil {
		if _, rerr := e.sessions.Remove(ctx, acc.ID, sessionID); rerr != nil {
			e.logger.Warn("orphan session not removed", zap.String("session_id", sessionID), zap.Error(rerr))
		}
		return fmt.Errorf("%w: token: %v", ErrPersistence, err)
	}

	id.token = token
	id.accountID = acc.ID
	id.personID = personID
	id.sessionID = sessionID
	id.rememberMe = rememberMe
	id.account = acc
	id.state = StateAuthenticated
	e.metricInc(MetricSessionCreated)
	return nil
}

// Validate checks the bound token against its session salt and lazily renews
// remember-me sessions. With logoutOnFail a failed check also removes the
// claimed session.
func (id *Identity) Validate(ctx context.Context, logoutOnFail bool) (bool, error) {
	e, err := id.ready()
	if err != nil {
		return false, err
	}
	if id.state == StateAuthenticated {
		return true, nil
	}
	if id.token == "" {
		return false, nil
	}

	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	var payload authtoken.Payload
	if len(id.token) > e.config.Token.MaxLength {
		err = fmt.Errorf("token longer than %d bytes", e.config.Token.MaxLength)
	} else {
		payload, err = e.codec.Payload(id.token)
	}
	if err != nil {
		e.metricInc(MetricMalformedToken)
		e.emitAudit(ctx, id.auditEvent(AuditValidateFailure, false, reasonMalformedToken))
		if logoutOnFail {
			id.clear()
		}
		return false, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	salt, err := e.sessions.Salt(ctx, payload.Acc, payload.SSID)
	if err != nil {
		e.metricInc(MetricPersistenceError)
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	reason := ""
	switch {
	case salt == "":
		reason = reasonSessionNotFound
	case !e.codec.Verify(id.token, salt):
		reason = reasonBadSignature
	}
	if reason != "" {
		e.metricInc(MetricValidateFailure)
		event := id.auditEvent(AuditValidateFailure, false, reason)
		event.AccountID = payload.Acc
		event.SessionID = payload.SSID
		e.emitAudit(ctx, event)
		if logoutOnFail {
			if err := id.Logout(ctx); err != nil {
				e.logger.Warn("logout after failed validation", zap.Error(err))
			}
		}
		return false, nil
	}

	id.accountID = payload.Acc
	id.personID = payload.Prs
	id.sessionID = payload.SSID
	id.state = StateAuthenticated
	e.metricInc(MetricValidateSuccess)

	renewed, err := e.sessions.Update(ctx, payload.Acc, payload.SSID, id.client.IP, id.client.UserAgent, e.now())
	switch {
	case err != nil:
		e.logger.Warn("session renewal failed", zap.String("session_id", payload.SSID), zap.Error(err))
	case renewed:
		id.rememberMe = true
		e.metricInc(MetricSessionRenewed)
		e.emitAudit(ctx, id.auditEvent(AuditSessionRenewed, true, ""))
	}

	return true, nil
}

// Logout removes the bound session and clears every identifier. It is
// idempotent; a session that is already gone is not an error. The state is
// cleared even when the store fails.
func (id *Identity) Logout(ctx context.Context) error {
	e, err := id.ready()
	if err != nil {
		return err
	}

	accountID, sessionID := id.accountID, id.sessionID
	if (accountID == "" || sessionID == "") && id.token != "" {
		if payload, perr := e.codec.Payload(id.token); perr == nil {
			accountID, sessionID = payload.Acc, payload.SSID
		}
	}

	event := id.auditEvent(AuditLogout, true, "")
	event.AccountID = accountID
	event.SessionID = sessionID
	id.clear()

	if accountID == "" || sessionID == "" {
		return nil
	}

	if _, err := e.sessions.Remove(ctx, accountID, sessionID); err != nil {
		e.metricInc(MetricPersistenceError)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, event)
	return nil
}

// authenticated reports whether the identity holds a valid session,
// validating the bound token when that has not happened yet. A malformed
// token counts as anonymous here.
func (id *Identity) authenticated(ctx context.Context) (bool, error) {
	if id.state == StateAuthenticated {
		return true, nil
	}
	ok, err := id.Validate(ctx, false)
	if errors.Is(err, ErrMalformedToken) {
		return false, nil
	}
	return ok, err
}

func (id *Identity) clear() {
	id.token = ""
	id.accountID = ""
	id.personID = nil
	id.sessionID = ""
	id.rememberMe = false
	id.account = nil
	id.state = StateLoggedOut
}

// SwitchAccount re-authenticates as accountID with pw and replaces the
// current session with one for that account, keeping the remember-me
// setting. The new session is opened before the old one is removed, so a
// store failure leaves the caller on the original session. It fails without
// side effects when the current account is locked or the password is wrong.
func (id *Identity) SwitchAccount(ctx context.Context, accountID, pw string) (bool, error) {
	e, err := id.ready()
	if err != nil {
		return false, err
	}
	if accountID == "" || pw == "" {
		return false, fmt.Errorf("%w: account id and password are required", ErrInvalidArgument)
	}
	if ok, err := id.authenticated(ctx); err != nil || !ok {
		return false, err
	}

	current, err := id.Account(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || current.Locked {
		return false, nil
	}

	target, err := e.directory.ByID(ctx, accountID)
	if err != nil {
		return false, e.mapError(err)
	}
	if target == nil {
		return false, nil
	}

	ok, err := e.directory.Authenticate(ctx, target.Username, pw)
	if err != nil {
		return false, e.mapError(err)
	}
	if !ok {
		return false, nil
	}

	rememberMe, err := id.currentRememberMe(ctx)
	if err != nil {
		return false, err
	}
	fromAccount, fromSession := id.accountID, id.sessionID
	logout := id.auditEvent(AuditLogout, true, "")

	id.state = StateSwitching
	if err := id.openSession(ctx, target, rememberMe); err != nil {
		id.state = StateAuthenticated
		return false, err
	}

	if _, err := e.sessions.Remove(ctx, fromAccount, fromSession); err != nil {
		e.metricInc(MetricPersistenceError)
		e.logger.Warn("previous session not removed after switch",
			zap.String("account_id", fromAccount),
			zap.String("session_id", fromSession),
			zap.Error(err),
		)
	} else {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, logout)
	}

	e.metricInc(MetricAccountSwitched)
	event := id.auditEvent(AuditAccountSwitched, true, "")
	event.Metadata = map[string]string{"from_account_id": fromAccount}
	e.emitAudit(ctx, event)
	return true, nil
}

// UpdatePassword changes the password of the authenticated, unlocked
// account after re-checking currentPassword. Every other session of the
// account is revoked; the current one stays valid.
func (id *Identity) UpdatePassword(ctx context.Context, currentPassword, newPassword string) (bool, error) {
	e, err := id.ready()
	if err != nil {
		return false, err
	}
	if currentPassword == "" || newPassword == "" {
		return false, fmt.Errorf("%w: passwords are required", ErrInvalidArgument)
	}
	if ok, err := id.authenticated(ctx); err != nil || !ok {
		return false, err
	}

	acc, err := id.Account(ctx)
	if err != nil {
		return false, err
	}
	if acc == nil || acc.Locked {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, id.auditEvent(AuditPasswordChanged, false, reasonAccountLocked))
		return false, nil
	}

	ok, err := e.directory.Authenticate(ctx, acc.Username, currentPassword)
	if err != nil {
		return false, e.mapError(err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, id.auditEvent(AuditPasswordChanged, false, reasonInvalidCredentials))
		return false, nil
	}

	hash, err := e.directory.HashPassword(newPassword)
	if err != nil {
		return false, e.mapError(err)
	}
	updated, err := e.directory.UpdatePassword(ctx, acc.ID, hash)
	if err != nil {
		return false, e.mapError(err)
	}
	if !updated {
		e.metricInc(MetricPasswordChangeFailure)
		return false, nil
	}
	acc.PasswordHash = hash

	if err := id.revokeOtherSessions(ctx); err != nil {
		e.logger.Warn("revoking other sessions after password change", zap.String("account_id", acc.ID), zap.Error(err))
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, id.auditEvent(AuditPasswordChanged, true, ""))
	return true, nil
}

func (id *Identity) revokeOtherSessions(ctx context.Context) error {
	e := id.engine
	records, err := e.sessions.ListActive(ctx, id.accountID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.SessionID == id.sessionID {
			continue
		}
		removed, err := e.sessions.Remove(ctx, id.accountID, rec.SessionID)
		if err != nil {
			return err
		}
		if removed {
			e.metricInc(MetricSessionRevoked)
		}
	}
	return nil
}

func (id *Identity) ready() (*Engine, error) {
	if id == nil || id.engine == nil || id.engine.sessions == nil || id.engine.directory == nil || id.engine.codec == nil {
		return nil, ErrEngineNotReady
	}
	return id.engine, nil
}

func (id *Identity) auditEvent(kind string, success bool, reason string) AuditEvent {
	return AuditEvent{
		Type:      kind,
		AccountID: id.accountID,
		SessionID: id.sessionID,
		IP:        id.client.IP,
		UserAgent: id.client.UserAgent,
		Success:   success,
		Reason:    reason,
	}
}
