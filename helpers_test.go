package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/password"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-horse-battery"
)

type testEnv struct {
	engine *Engine
	repo   *directory.MemoryRepository
	mr     *miniredis.Miniredis
	sink   *ChannelSink
	now    time.Time
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Config{
		Memory:           8 * 1024,
		Time:             1,
		Parallelism:      1,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: 8,
		MaxPasswordBytes: 64,
	}
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		repo: directory.NewMemoryRepository(),
		mr:   mr,
		sink: NewChannelSink(256),
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(env.repo).
		WithAuditSink(env.sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	engine.now = func() time.Time { return env.now }
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) createAccount(t *testing.T, email string) string {
	t.Helper()
	id, err := env.engine.CreateAccount(context.Background(), email, "Alice", "Liddell", testPassword)
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", email, err)
	}
	return id
}

func (env *testEnv) login(t *testing.T, username string, rememberMe bool) *Identity {
	t.Helper()
	id := env.engine.Identity(ClientInfo{IP: "203.0.113.7", UserAgent: "test-agent"}, "")
	ok, err := id.Login(context.Background(), username, testPassword, rememberMe)
	if err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}
	if !ok {
		t.Fatalf("Login(%s) returned false", username)
	}
	return id
}

func (env *testEnv) validate(t *testing.T, token string) (*Identity, bool) {
	t.Helper()
	id := env.engine.Identity(ClientInfo{IP: "198.51.100.2", UserAgent: "other-agent"}, token)
	ok, err := id.Validate(context.Background(), false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return id, ok
}

func (env *testEnv) drainAudit(t *testing.T) []AuditEvent {
	t.Helper()
	env.engine.audit.Close()
	var events []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}
