package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := WithClientIP(context.Background(), "192.0.2.10")
	env.createAccount(t, testEmail)

	first := env.login(t, "alice", true)
	second := env.login(t, "alice", false)

	token, err := env.engine.RequestPasswordReset(ctx, "alice")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a reset token for a known account")
	}

	if _, err := env.engine.ConfirmPasswordReset(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	ok, err := env.engine.ConfirmPasswordReset(ctx, token, "reset-password-42")
	if err != nil || !ok {
		t.Fatalf("ConfirmPasswordReset: (%v, %v)", ok, err)
	}

	for _, tok := range []string{first.Token(), second.Token()} {
		if _, ok := env.validate(t, tok); ok {
			t.Fatalf("every session must be revoked after a reset")
		}
	}

	ok, err = env.engine.ConfirmPasswordReset(ctx, token, "reset-password-43")
	if err != nil || ok {
		t.Fatalf("reset token must be single use, got (%v, %v)", ok, err)
	}

	id := env.engine.Identity(ClientInfo{}, "")
	if ok, err := id.Login(context.Background(), "alice", "reset-password-42", false); err != nil || !ok {
		t.Fatalf("login with reset password: (%v, %v)", ok, err)
	}
}

func TestPasswordResetUnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)

	token, err := env.engine.RequestPasswordReset(context.Background(), "nobody")
	if err != nil || token != "" {
		t.Fatalf("expected (\"\", nil), got (%q, %v)", token, err)
	}
}

func TestPasswordResetGarbageToken(t *testing.T) {
	env := newTestEnv(t, nil)

	ok, err := env.engine.ConfirmPasswordReset(context.Background(), "garbage", "reset-password-42")
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
	if got := env.engine.metrics.Value(MetricPasswordResetConfirmFailure); got != 1 {
		t.Fatalf("expected 1 confirm failure, got %d", got)
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RateLimit.MaxResetRequests = 1 })
	env.createAccount(t, testEmail)
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := env.engine.RequestPasswordReset(ctx, "alice"); !errors.Is(err, ErrPasswordResetRateLimited) {
		t.Fatalf("expected ErrPasswordResetRateLimited, got %v", err)
	}
}

func TestPasswordResetDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Reset.Enabled = false })
	env.createAccount(t, testEmail)
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, "alice"); !errors.Is(err, ErrPasswordResetDisabled) {
		t.Fatalf("expected ErrPasswordResetDisabled, got %v", err)
	}
	if _, err := env.engine.ConfirmPasswordReset(ctx, "token", "reset-password-42"); !errors.Is(err, ErrPasswordResetDisabled) {
		t.Fatalf("expected ErrPasswordResetDisabled, got %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RateLimit.MaxLoginFailures = 2 })
	env.createAccount(t, testEmail)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		id := env.engine.Identity(ClientInfo{IP: "203.0.113.7"}, "")
		if ok, err := id.Login(ctx, "alice", "wrong-password", false); err != nil || ok {
			t.Fatalf("attempt %d: expected (false, nil), got (%v, %v)", i, ok, err)
		}
	}

	id := env.engine.Identity(ClientInfo{IP: "198.51.100.9"}, "")
	ok, err := id.Login(ctx, "alice", testPassword, false)
	if ok || !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got (%v, %v)", ok, err)
	}
	if got := env.engine.metrics.Value(MetricLoginRateLimited); got != 1 {
		t.Fatalf("expected 1 rate-limited login, got %d", got)
	}
}

func TestSuccessfulLoginClearsUsernameFailures(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.MaxLoginFailures = 2
		c.RateLimit.EnableIPThrottle = false
	})
	env.createAccount(t, testEmail)
	ctx := context.Background()

	fail := func() {
		t.Helper()
		id := env.engine.Identity(ClientInfo{}, "")
		if ok, err := id.Login(ctx, "alice", "wrong-password", false); err != nil || ok {
			t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
		}
	}

	fail()
	env.login(t, "alice", false)
	fail()
	env.login(t, "alice", false)
}

func TestRateLimitDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.Enabled = false
		c.RateLimit.MaxLoginFailures = 1
	})
	env.createAccount(t, testEmail)

	if env.engine.limiter != nil {
		t.Fatalf("limiter must not be wired when disabled")
	}
	for i := 0; i < 3; i++ {
		id := env.engine.Identity(ClientInfo{}, "")
		if _, err := id.Login(context.Background(), "alice", "wrong-password", false); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	env.login(t, "alice", false)
}

func TestRemoveAccountRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount(t, testEmail)

	token := env.login(t, "alice", true).Token()

	removed, err := env.engine.RemoveAccount(ctx, accountID)
	if err != nil || !removed {
		t.Fatalf("RemoveAccount: (%v, %v)", removed, err)
	}
	if _, ok := env.validate(t, token); ok {
		t.Fatalf("sessions of a removed account must be revoked")
	}
	acc, err := env.engine.Account(ctx, accountID)
	if err != nil || acc != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", acc, err)
	}

	removed, err = env.engine.RemoveAccount(ctx, accountID)
	if err != nil || removed {
		t.Fatalf("second removal: expected (false, nil), got (%v, %v)", removed, err)
	}
}

func TestRevokeSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount(t, testEmail)

	env.login(t, "alice", false)
	env.login(t, "alice", true)

	n, err := env.engine.RevokeSessions(ctx, accountID)
	if err != nil || n != 2 {
		t.Fatalf("RevokeSessions: (%d, %v)", n, err)
	}
	if _, err := env.engine.RevokeSessions(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAccountAdministration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	aliceID := env.createAccount(t, testEmail)
	env.createAccount(t, "bob@example.com")

	if _, err := env.engine.CreateAccount(ctx, "ALICE@example.com", "A", "L", testPassword); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for a duplicate email, got %v", err)
	}
	if _, err := env.engine.CreateAccount(ctx, "not an email", "A", "L", testPassword); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := env.engine.CreateAccount(ctx, "carol@example.com", "C", "L", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if _, err := env.engine.UpdateUsername(ctx, aliceID, "bob"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	changed, err := env.engine.UpdateUsername(ctx, aliceID, "alice2")
	if err != nil || !changed {
		t.Fatalf("UpdateUsername: (%v, %v)", changed, err)
	}

	n, err := env.engine.CountAccounts(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountAccounts: (%d, %v)", n, err)
	}
	accounts, err := env.engine.ListAccounts(ctx, 0, 0)
	if err != nil || len(accounts) != 2 {
		t.Fatalf("ListAccounts: (%d, %v)", len(accounts), err)
	}

	if changed, err := env.engine.UnlockAccount(ctx, aliceID); err != nil || !changed {
		t.Fatalf("UnlockAccount: (%v, %v)", changed, err)
	}
}

func TestEnginePing(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.engine.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	env.mr.Close()
	if _, err := env.engine.Ping(context.Background()); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence after redis shutdown, got %v", err)
	}
}

func TestValidateBackendFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, testEmail)
	token := env.login(t, "alice", false).Token()

	env.mr.Close()

	id := env.engine.Identity(ClientInfo{}, token)
	ok, err := id.Validate(context.Background(), true)
	if ok || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got (%v, %v)", ok, err)
	}
	if id.Token() != token {
		t.Fatalf("a backend failure must not log the caller out")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	b := New().WithConfig(testConfig()).WithRedis(rdb)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second Build to fail")
	}
}

func TestBuilderRequiresBackend(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without redis, got %v", err)
	}

	cfg := testConfig()
	cfg.Session.Backend = "Postgres"
	if _, err := New().WithConfig(cfg).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without a database, got %v", err)
	}
}
