package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T, locator Locator) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, DefaultConfig(), locator)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

type fakeLocator struct {
	codes map[string]string
	names map[string]string
}

func (f fakeLocator) CountryCode(_ context.Context, ip string) (string, error) {
	code, ok := f.codes[ip]
	if !ok {
		return "", errors.New("unknown ip")
	}
	return code, nil
}

func (f fakeLocator) CountryName(_ context.Context, code string) (string, error) {
	return f.names[code], nil
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func createSession(t *testing.T, store *Store, accountID string, remember bool, now time.Time) string {
	t.Helper()
	person := "prs-" + accountID
	sid, err := store.Create(context.Background(), NewSession{
		Salt:       "salt-" + accountID,
		AccountID:  accountID,
		PersonID:   &person,
		RememberMe: remember,
		IP:         "10.0.0.1",
		UserAgent:  "test-agent",
		Now:        now,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sid
}

func TestCreateAndInfo(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	sid := createSession(t, store, "acc-1", false, baseTime)

	rec, err := store.Info(ctx, "acc-1", sid)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if rec == nil {
		t.Fatal("expected session record")
	}
	if rec.SessionID != sid || rec.AccountID != "acc-1" || rec.Salt != "salt-acc-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.CreatedAt.Equal(baseTime) || !rec.LastAccess.Equal(baseTime) {
		t.Fatalf("expected createdAt = lastAccess = now, got %v / %v", rec.CreatedAt, rec.LastAccess)
	}
	if rec.PersonID == nil || *rec.PersonID != "prs-acc-1" {
		t.Fatalf("unexpected person id %v", rec.PersonID)
	}
	if rec.IP != "10.0.0.1" || rec.UserAgent != "test-agent" {
		t.Fatalf("client info not captured: %+v", rec)
	}
}

func TestInfoMissingReturnsNil(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()

	rec, err := store.Info(context.Background(), "acc-1", "missing")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil, got %+v", rec)
	}
}

func TestInfoRejectsForeignAccount(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	sid := createSession(t, store, "acc-1", false, baseTime)
	rec, err := store.Info(ctx, "acc-2", sid)
	if err != nil || rec != nil {
		t.Fatalf("expected no record for another account, got %+v, %v", rec, err)
	}
}

func TestCreateProducesDistinctSessions(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()

	a := createSession(t, store, "acc-1", false, baseTime)
	b := createSession(t, store, "acc-1", false, baseTime)
	if a == b {
		t.Fatal("expected distinct session ids")
	}

	list, err := store.ListActive(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
}

func TestSessionTTLFollowsRememberMe(t *testing.T) {
	store, mr, done := newSessionStoreTest(t, nil)
	defer done()

	short := createSession(t, store, "acc-1", false, baseTime)
	long := createSession(t, store, "acc-1", true, baseTime)

	if ttl := mr.TTL(store.key("acc-1", short)); ttl != store.config.SessionTTL {
		t.Fatalf("expected session ttl %v, got %v", store.config.SessionTTL, ttl)
	}
	if ttl := mr.TTL(store.key("acc-1", long)); ttl != store.config.RememberTTL {
		t.Fatalf("expected remember ttl %v, got %v", store.config.RememberTTL, ttl)
	}

	mr.FastForward(store.config.SessionTTL + time.Second)
	if rec, _ := store.Info(context.Background(), "acc-1", short); rec != nil {
		t.Fatal("expected non-remember session to expire")
	}
	if rec, _ := store.Info(context.Background(), "acc-1", long); rec == nil {
		t.Fatal("expected remember-me session to survive")
	}
}

func TestUpdateRenewalThreshold(t *testing.T) {
	store, mr, done := newSessionStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	sid := createSession(t, store, "acc-1", true, baseTime)
	threshold := store.config.RenewalThreshold

	before := baseTime.Add(threshold - time.Second)
	renewed, err := store.Update(ctx, "acc-1", sid, "10.0.0.2", "agent-2", before)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if renewed {
		t.Fatal("expected no renewal before threshold")
	}
	rec, _ := store.Info(ctx, "acc-1", sid)
	if !rec.LastAccess.Equal(baseTime) || rec.IP != "10.0.0.1" {
		t.Fatalf("record changed without renewal: %+v", rec)
	}

	mr.FastForward(time.Hour)
	after := baseTime.Add(threshold + time.Second)
	renewed, err = store.Update(ctx, "acc-1", sid, "10.0.0.2", "agent-2", after)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !renewed {
		t.Fatal("expected renewal after threshold")
	}
	rec, _ = store.Info(ctx, "acc-1", sid)
	if !rec.LastAccess.Equal(after) {
		t.Fatalf("expected lastAccess %v, got %v", after, rec.LastAccess)
	}
	if rec.IP != "10.0.0.2" || rec.UserAgent != "agent-2" {
		t.Fatalf("expected client info refresh, got %+v", rec)
	}
	if !rec.CreatedAt.Equal(baseTime) {
		t.Fatal("createdAt must not change on renewal")
	}
	if ttl := mr.TTL(store.key("acc-1", sid)); ttl != store.config.RememberTTL {
		t.Fatalf("expected ttl reset to %v, got %v", store.config.RememberTTL, ttl)
	}
}

func TestConcurrentRenewalsLastWriteWins(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	sid := createSession(t, store, "acc-1", true, baseTime)
	past := baseTime.Add(store.config.RenewalThreshold + time.Minute)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := past.Add(time.Duration(i) * time.Second)
			if _, err := store.Update(ctx, "acc-1", sid, fmt.Sprintf("10.1.0.%d", i), fmt.Sprintf("agent-%d", i), now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent update: %v", err)
	}

	rec, err := store.Info(ctx, "acc-1", sid)
	if err != nil || rec == nil {
		t.Fatalf("record unreadable after concurrent renewals: %v", err)
	}
	i := int(rec.LastAccess.Sub(past) / time.Second)
	if i < 0 || i >= writers || !rec.LastAccess.Equal(past.Add(time.Duration(i)*time.Second)) {
		t.Fatalf("unexpected lastAccess %v", rec.LastAccess)
	}
	if rec.IP != fmt.Sprintf("10.1.0.%d", i) || rec.UserAgent != fmt.Sprintf("agent-%d", i) {
		t.Fatalf("record mixes writers: lastAccess from %d, got ip %q agent %q", i, rec.IP, rec.UserAgent)
	}
	if rec.Salt != "salt-acc-1" || !rec.CreatedAt.Equal(baseTime) || !rec.RememberMe {
		t.Fatalf("renewal altered immutable fields: %+v", rec)
	}
}

func TestUpdateNeverRenewsNonRememberSession(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()

	sid := createSession(t, store, "acc-1", false, baseTime)
	renewed, err := store.Update(context.Background(), "acc-1", sid, "", "", baseTime.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if renewed {
		t.Fatal("non-remember session renewed")
	}
}

func TestUpdateMissingSessionIsNoop(t *testing.T) {
	store, mr, done := newSessionStoreTest(t, nil)
	defer done()

	renewed, err := store.Update(context.Background(), "acc-1", "missing", "", "", baseTime)
	if err != nil || renewed {
		t.Fatalf("expected silent no-op, got %v, %v", renewed, err)
	}
	if mr.Exists(store.key("acc-1", "missing")) {
		t.Fatal("update must not create sessions")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	store, mr, done := newSessionStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	sid := createSession(t, store, "acc-1", false, baseTime)

	removed, err := store.Remove(ctx, "acc-1", sid)
	if err != nil || !removed {
		t.Fatalf("first remove: %v, %v", removed, err)
	}
	removed, err = store.Remove(ctx, "acc-1", sid)
	if err != nil || removed {
		t.Fatalf("second remove should report false without error, got %v, %v", removed, err)
	}

	if ok, _ := mr.SIsMember(store.indexKey("acc-1"), sid); ok {
		t.Fatal("index entry not removed")
	}
	salt, err := store.Salt(ctx, "acc-1", sid)
	if err != nil || salt != "" {
		t.Fatalf("expected empty salt after removal, got %q, %v", salt, err)
	}
}

func TestRemoveEmptyIDs(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()

	removed, err := store.Remove(context.Background(), "", "")
	if err != nil || removed {
		t.Fatalf("expected false, nil; got %v, %v", removed, err)
	}
}

func TestSaltMissingIsEmpty(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()

	salt, err := store.Salt(context.Background(), "acc-1", "nope")
	if err != nil || salt != "" {
		t.Fatalf("expected empty salt, got %q, %v", salt, err)
	}
}

func TestRemoveAll(t *testing.T) {
	store, _, done := newSessionStoreTest(t, nil)
	defer done()
	ctx := context.Background()

	createSession(t, store, "acc-1", false, baseTime)
	createSession(t, store, "acc-1", true, baseTime)
	other := createSession(t, store, "acc-2", false, baseTime)

	n, err := store.RemoveAll(ctx, "acc-1")
	if err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	list, _ := store.ListActive(ctx, "acc-1")
	if len(list) != 0 {
		t.Fatalf("expected no sessions left, got %d", len(list))
	}
	if rec, _ := store.Info(ctx, "acc-2", other); rec == nil {
		t.Fatal("other account's session must survive")
	}
}

func TestListActivePrunesExpiredAndDecorates(t *testing.T) {
	locator := fakeLocator{
		codes: map[string]string{"10.0.0.1": "de"},
		names: map[string]string{"DE": "Germany"},
	}
	store, mr, done := newSessionStoreTest(t, locator)
	defer done()
	ctx := context.Background()

	short := createSession(t, store, "acc-1", false, baseTime)
	long := createSession(t, store, "acc-1", true, baseTime.Add(time.Minute))

	mr.FastForward(store.config.SessionTTL + time.Second)

	list, err := store.ListActive(ctx, "acc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].SessionID != long {
		t.Fatalf("expected only %s, got %+v", long, list)
	}
	if list[0].Location != "Germany, DE" {
		t.Fatalf("unexpected location %q", list[0].Location)
	}
	if ok, _ := mr.SIsMember(store.indexKey("acc-1"), short); ok {
		t.Fatal("expired session id should be pruned from index")
	}
}

func TestLocationLabelDegrades(t *testing.T) {
	ctx := context.Background()
	if got := LocationLabel(ctx, nil, "1.2.3.4"); got != "" {
		t.Fatalf("expected empty label without locator, got %q", got)
	}
	loc := fakeLocator{codes: map[string]string{}, names: map[string]string{}}
	if got := LocationLabel(ctx, loc, "1.2.3.4"); got != "" {
		t.Fatalf("expected empty label on lookup failure, got %q", got)
	}
}

func TestRedisUnavailable(t *testing.T) {
	store, mr, done := newSessionStoreTest(t, nil)
	defer done()
	mr.Close()

	_, err := store.Create(context.Background(), NewSession{AccountID: "acc-1", Salt: "s", Now: baseTime})
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Ping(context.Background()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ping failure, got %v", err)
	}
}
