package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loginbox/identity/internal/random"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport or command failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store. Each session lives under its own key
// with a TTL, and every account keeps an index set of its session ids.
type Store struct {
	redis   redis.UniversalClient
	config  Config
	locator Locator
	now     func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
// locator may be nil, in which case listed sessions carry no location.
func NewStore(redisClient redis.UniversalClient, cfg Config, locator Locator) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	return &Store{
		redis:   redisClient,
		config:  cfg,
		locator: locator,
		now:     time.Now,
	}
}

// Config returns the lifetimes the store was built with.
func (s *Store) Config() Config {
	return s.config
}

func (s *Store) key(accountID, sessionID string) string {
	return s.config.Prefix + ":" + accountID + ":" + sessionID
}

func (s *Store) indexKey(accountID string) string {
	return s.config.Prefix + "i:" + accountID
}

// Create persists a new session and returns its id.
//
//	Performance: 1 MULTI/EXEC (SET + SADD + PEXPIRE).
func (s *Store) Create(ctx context.Context, in NewSession) (string, error) {
	if in.AccountID == "" {
		return "", errors.New("session: empty account id")
	}

	sid, err := random.NewID()
	if err != nil {
		return "", err
	}
	sessionID := sid.String()

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}

	rec := &Record{
		SessionID:  sessionID,
		AccountID:  in.AccountID,
		PersonID:   in.PersonID,
		Salt:       in.Salt,
		CreatedAt:  now,
		LastAccess: now,
		RememberMe: in.RememberMe,
		IP:         in.IP,
		UserAgent:  in.UserAgent,
	}
	data, err := Encode(rec)
	if err != nil {
		return "", err
	}

	sessionKey := s.key(in.AccountID, sessionID)
	indexKey := s.indexKey(in.AccountID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, s.config.TTLFor(in.RememberMe))
		pipe.SAdd(ctx, indexKey, sessionID)
		pipe.PExpire(ctx, indexKey, s.config.indexTTL())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sessionID, nil
}

// Info returns the session or nil when it does not exist.
func (s *Store) Info(ctx context.Context, accountID, sessionID string) (*Record, error) {
	rec, err := s.get(ctx, accountID, sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.Location = LocationLabel(ctx, s.locator, rec.IP)
	return rec, nil
}

// Salt returns the signing salt of a session, or "" if it is gone.
func (s *Store) Salt(ctx context.Context, accountID, sessionID string) (string, error) {
	rec, err := s.get(ctx, accountID, sessionID)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.Salt, nil
}

// Update renews a remember-me session whose last access is older than the
// renewal threshold. It reports whether a write happened. The write is SET XX
// so a session removed concurrently is never resurrected; concurrent renewals
// are last-write-wins.
func (s *Store) Update(ctx context.Context, accountID, sessionID, ip, userAgent string, now time.Time) (bool, error) {
	rec, err := s.get(ctx, accountID, sessionID)
	if err != nil || rec == nil {
		return false, err
	}
	if !s.config.ShouldRenew(rec, now) {
		return false, nil
	}

	rec.LastAccess = now
	rec.IP = ip
	rec.UserAgent = userAgent

	data, err := Encode(rec)
	if err != nil {
		return false, err
	}

	indexKey := s.indexKey(accountID)
	var setCmd *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetXX(ctx, s.key(accountID, sessionID), data, s.config.RememberTTL)
		pipe.PExpire(ctx, indexKey, s.config.indexTTL())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return setCmd.Val(), nil
}

// Remove deletes a session and reports whether it existed. Removing an absent
// session is not an error.
//
//	Performance: 1 EVALSHA.
func (s *Store) Remove(ctx context.Context, accountID, sessionID string) (bool, error) {
	if accountID == "" || sessionID == "" {
		return false, nil
	}

	existed, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(accountID, sessionID), s.indexKey(accountID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return existed == 1, nil
}

// RemoveAll deletes every session of an account and returns how many existed.
//
// The index is read before the delete, so a session created between the two
// steps survives until its TTL or the next RemoveAll.
func (s *Store) RemoveAll(ctx context.Context, accountID string) (int, error) {
	indexKey := s.indexKey(accountID)

	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		keys = append(keys, s.key(accountID, sid))
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, indexKey, toAny(sessionIDs)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(delCmd.Val()), nil
}

// ListActive returns every live session of an account, oldest first, with
// location labels filled in. Index entries whose session already expired are
// pruned.
func (s *Store) ListActive(ctx context.Context, accountID string) ([]Record, error) {
	indexKey := s.indexKey(accountID)

	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(accountID, sid))
	}

	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]Record, 0, len(sessionIDs))
	stale := make([]string, 0)
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, sessionIDs[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		rec, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		rec.SessionID = sessionIDs[i]
		records = append(records, *rec)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, indexKey, toAny(stale)...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	Decorate(ctx, s.locator, records)

	return records, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) get(ctx context.Context, accountID, sessionID string) (*Record, error) {
	if accountID == "" || sessionID == "" {
		return nil, nil
	}

	data, err := s.redis.Get(ctx, s.key(accountID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID
	if rec.AccountID != accountID {
		return nil, nil
	}

	return rec, nil
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
