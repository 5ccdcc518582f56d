package directory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loginbox/identity/password"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func testHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{
		Memory:           8 * 1024,
		Time:             1,
		Parallelism:      1,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: 8,
		MaxPasswordBytes: 64,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func newTestDirectory(t *testing.T) (*Directory, *MemoryRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	repo := NewMemoryRepository()
	dir, err := New(Options{
		Repository: repo,
		Hasher:     testHasher(t),
		Resets:     NewResetStore(rdb, ""),
		ResetTTL:   time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dir, repo, mr
}

func TestCreateAndAuthenticate(t *testing.T) {
	dir, repo, _ := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Create(ctx, "alice@example.com", "Alice", "Liddell", "correct-horse")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	acc, err := dir.ByID(ctx, id)
	if err != nil || acc == nil {
		t.Fatalf("ByID: %v %v", acc, err)
	}
	if acc.Username != "alice" {
		t.Fatalf("expected username alice, got %q", acc.Username)
	}
	if acc.Title != "Alice Liddell" {
		t.Fatalf("unexpected title %q", acc.Title)
	}
	if acc.PersonID == nil {
		t.Fatal("expected linked person")
	}
	if p, err := repo.PersonByID(ctx, *acc.PersonID); err != nil || p.Email != "alice@example.com" {
		t.Fatalf("person not stored: %+v %v", p, err)
	}

	ok, err := dir.Authenticate(ctx, "alice", "correct-horse")
	if err != nil || !ok {
		t.Fatalf("expected success, got %v %v", ok, err)
	}
	ok, err = dir.Authenticate(ctx, "alice@example.com", "correct-horse")
	if err != nil || !ok {
		t.Fatalf("expected email login success, got %v %v", ok, err)
	}
	ok, err = dir.Authenticate(ctx, "alice", "wrong-password")
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, got %v %v", ok, err)
	}
	ok, err = dir.Authenticate(ctx, "nobody", "whatever-pass")
	if err != nil || ok {
		t.Fatalf("expected unknown user to fail, got %v %v", ok, err)
	}
}

func TestAuthenticateEmptyInput(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	if _, err := dir.Authenticate(context.Background(), "", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := dir.Authenticate(context.Background(), "x", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateUsernameCollisions(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	want := []string{"bob", "bob1", "bob2"}
	domains := []string{"a.example", "b.example", "c.example"}
	for i, domain := range domains {
		id, err := dir.Create(ctx, "bob@"+domain, "Bob", "", "long-enough")
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		acc, _ := dir.ByID(ctx, id)
		if acc.Username != want[i] {
			t.Fatalf("create %d: expected %q, got %q", i, want[i], acc.Username)
		}
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Create(ctx, "not-an-email", "A", "B", "long-enough"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := dir.Create(ctx, "short@example.com", "A", "B", "short"); !errors.Is(err, password.ErrPolicy) {
		t.Fatalf("expected ErrPolicy, got %v", err)
	}
	if _, err := dir.Create(ctx, "dup@example.com", "A", "B", "long-enough"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := dir.Create(ctx, "DUP@example.com", "A", "B", "long-enough"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestLegacyBcryptIsUpgraded(t *testing.T) {
	dir, repo, _ := newTestDirectory(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := repo.CreateAccount(ctx, Account{ID: "acc-1", Username: "old", PasswordHash: string(legacy)}, Person{}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	ok, err := dir.Authenticate(ctx, "old", "legacy-pass")
	if err != nil || !ok {
		t.Fatalf("expected legacy login success, got %v %v", ok, err)
	}

	acc, _ := dir.ByID(ctx, "acc-1")
	if !strings.HasPrefix(acc.PasswordHash, "$argon2id$") {
		t.Fatalf("expected upgraded hash, got %q", acc.PasswordHash)
	}
	ok, _ = dir.Authenticate(ctx, "old", "legacy-pass")
	if !ok {
		t.Fatal("expected login with upgraded hash")
	}
}

func TestPasswordResetSingleUse(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Create(ctx, "carol@example.com", "Carol", "", "first-password")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	token, err := dir.GeneratePasswordResetToken(ctx, id)
	if err != nil {
		t.Fatalf("GeneratePasswordResetToken: %v", err)
	}

	newHash, err := dir.HashPassword("second-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := dir.ConsumePasswordResetToken(ctx, token, newHash)
	if err != nil || !ok {
		t.Fatalf("expected reset success, got %v %v", ok, err)
	}

	ok, err = dir.ConsumePasswordResetToken(ctx, token, newHash)
	if err != nil || ok {
		t.Fatalf("expected second use to fail, got %v %v", ok, err)
	}

	ok, _ = dir.Authenticate(ctx, "carol", "second-password")
	if !ok {
		t.Fatal("expected login with new password")
	}
}

func TestPasswordResetRejectsGarbageAndExpired(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	id, _ := dir.Create(ctx, "dave@example.com", "Dave", "", "first-password")

	if accountID, err := dir.RedeemPasswordResetToken(ctx, "garbage"); err != nil || accountID != "" {
		t.Fatalf("expected garbage to be rejected, got %q %v", accountID, err)
	}

	token, err := dir.GeneratePasswordResetToken(ctx, id)
	if err != nil {
		t.Fatalf("GeneratePasswordResetToken: %v", err)
	}
	dir.resets.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if accountID, err := dir.RedeemPasswordResetToken(ctx, token); err != nil || accountID != "" {
		t.Fatalf("expected expired token to be rejected, got %q %v", accountID, err)
	}
}

func TestPasswordResetUnknownAccount(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	if _, err := dir.GeneratePasswordResetToken(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	a, _ := dir.Create(ctx, "erin@example.com", "Erin", "", "long-enough")
	b, _ := dir.Create(ctx, "frank@example.com", "Frank", "", "long-enough")

	if ok, err := dir.SetLocked(ctx, a, true); err != nil || !ok {
		t.Fatalf("SetLocked: %v %v", ok, err)
	}
	if ok, err := dir.SetAdmin(ctx, a, true); err != nil || !ok {
		t.Fatalf("SetAdmin: %v %v", ok, err)
	}
	if ok, err := dir.UpdateTitle(ctx, a, "  Dr. Erin "); err != nil || !ok {
		t.Fatalf("UpdateTitle: %v %v", ok, err)
	}
	acc, _ := dir.ByID(ctx, a)
	if !acc.Locked || !acc.IsAdmin || acc.Title != "Dr. Erin" {
		t.Fatalf("unexpected account state %+v", acc)
	}

	if _, err := dir.UpdateUsername(ctx, a, "frank"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if ok, err := dir.UpdateUsername(ctx, a, "erin2"); err != nil || !ok {
		t.Fatalf("UpdateUsername: %v %v", ok, err)
	}

	n, _ := dir.Count(ctx)
	if n != 2 {
		t.Fatalf("expected 2 accounts, got %d", n)
	}
	list, _ := dir.List(ctx, 1, 0)
	if len(list) != 1 {
		t.Fatalf("expected 1 account on second page, got %d", len(list))
	}

	if ok, err := dir.Remove(ctx, b); err != nil || !ok {
		t.Fatalf("Remove: %v %v", ok, err)
	}
	if acc, _ := dir.ByID(ctx, b); acc != nil {
		t.Fatal("expected removed account to be gone")
	}
	if ok, _ := dir.Remove(ctx, b); ok {
		t.Fatal("expected second remove to report false")
	}
}

func TestByUsernameEmailFallback(t *testing.T) {
	dir, _, _ := newTestDirectory(t)
	ctx := context.Background()

	id, _ := dir.Create(ctx, "gina@example.com", "Gina", "", "long-enough")

	got, err := dir.ByUsername(ctx, "gina@example.com", false, false)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no match without fallback, got %v %v", got, err)
	}
	got, err = dir.ByUsername(ctx, "gina@example.com", true, true)
	if err != nil || len(got) != 1 || got[0].ID != id {
		t.Fatalf("expected email match, got %v %v", got, err)
	}
	acc, _ := dir.FindByUsername(ctx, "gina", false)
	if acc == nil || acc.ID != id {
		t.Fatalf("expected username match, got %v", acc)
	}

	p, err := dir.Person(ctx, *acc.PersonID)
	if err != nil || p == nil || p.FirstName != "Gina" {
		t.Fatalf("expected linked person, got %v %v", p, err)
	}
	if p, _ := dir.Person(ctx, "missing"); p != nil {
		t.Fatal("expected nil for unknown person")
	}
}
