package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loginbox/identity/authtoken"
	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/internal/audit"
	"github.com/loginbox/identity/internal/rate"
	"github.com/loginbox/identity/password"
	"github.com/loginbox/identity/session"
	"go.uber.org/zap"
)

// TokenCodec signs and verifies auth tokens with a per-session salt.
type TokenCodec interface {
	Generate(payload authtoken.Payload, salt string) (string, error)
	Verify(token, salt string) bool
	Payload(token string) (authtoken.Payload, error)
}

// SessionStore persists sessions. Both session.Store (Redis) and
// session/postgres.Store implement it.
type SessionStore interface {
	Create(ctx context.Context, in session.NewSession) (string, error)
	Info(ctx context.Context, accountID, sessionID string) (*session.Record, error)
	Update(ctx context.Context, accountID, sessionID, ip, userAgent string, now time.Time) (bool, error)
	Remove(ctx context.Context, accountID, sessionID string) (bool, error)
	RemoveAll(ctx context.Context, accountID string) (int, error)
	Salt(ctx context.Context, accountID, sessionID string) (string, error)
	ListActive(ctx context.Context, accountID string) ([]session.Record, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// AccountDirectory is the account service the engine relies on.
// *directory.Directory implements it.
type AccountDirectory interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
	FindByUsername(ctx context.Context, username string, includeEmail bool) (*directory.Account, error)
	ByID(ctx context.Context, id string) (*directory.Account, error)
	Person(ctx context.Context, id string) (*directory.Person, error)
	Create(ctx context.Context, email, firstName, lastName, password string) (string, error)
	HashPassword(password string) (string, error)
	UpdatePassword(ctx context.Context, accountID, newHash string) (bool, error)
	GeneratePasswordResetToken(ctx context.Context, accountID string) (string, error)
	RedeemPasswordResetToken(ctx context.Context, token string) (string, error)
	Remove(ctx context.Context, accountID string) (bool, error)
	SetLocked(ctx context.Context, accountID string, locked bool) (bool, error)
	SetAdmin(ctx context.Context, accountID string, admin bool) (bool, error)
	UpdateTitle(ctx context.Context, accountID, title string) (bool, error)
	UpdateUsername(ctx context.Context, accountID, username string) (bool, error)
	List(ctx context.Context, start, count int) ([]directory.Account, error)
	Count(ctx context.Context) (int, error)
}

// Engine holds the long-lived collaborators shared by every Identity. It is
// safe for concurrent use once built.
type Engine struct {
	config    Config
	logger    *zap.Logger
	codec     TokenCodec
	sessions  SessionStore
	directory AccountDirectory
	limiter   *rate.Limiter
	audit     *audit.Dispatcher
	metrics   *Metrics
	closers   []func()
	now       func() time.Time
}

// Identity starts a per-request session manager for the caller described by
// client, bound to token (which may be empty). Oversized client fields are
// truncated.
func (e *Engine) Identity(client ClientInfo, token string) *Identity {
	return &Identity{
		engine: e,
		client: client.clamped(),
		token:  token,
		state:  StateAnonymous,
	}
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

// Close drains the audit queue and releases backends the Builder opened.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Ping checks the session backend and returns its round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return d, nil
}

// RevokeSessions removes every session of accountID and returns how many
// existed.
func (e *Engine) RevokeSessions(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: empty account id", ErrInvalidArgument)
	}
	n, err := e.sessions.RemoveAll(ctx, accountID)
	if err != nil {
		e.metricInc(MetricPersistenceError)
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	return n, nil
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// mapError folds package errors into the root taxonomy.
func (e *Engine) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrPersistence),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrPasswordResetDisabled):
		return err
	case errors.Is(err, directory.ErrInvalidArgument):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, password.ErrPolicy):
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	case errors.Is(err, directory.ErrAccountExists):
		return fmt.Errorf("%w: %v", ErrAccountExists, err)
	case errors.Is(err, directory.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	case errors.Is(err, directory.ErrResetDisabled):
		return fmt.Errorf("%w: %v", ErrPasswordResetDisabled, err)
	default:
		e.metricInc(MetricPersistenceError)
		e.logger.Warn("backend failure", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}
