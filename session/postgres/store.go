// Package postgres is a PostgreSQL session store. It satisfies the same
// contract as the Redis store and is meant for deployments that already keep
// accounts in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/loginbox/identity/internal/pgdb"
	"github.com/loginbox/identity/session"
	"github.com/oklog/ulid/v2"
)

const recordColumns = `id, account_id, person_id, salt, remember_me, ip, user_agent, created_at, last_access`

// Store persists sessions in the sessions table. Expired rows are invisible
// to reads and are cleared by [Store.PurgeExpired].
type Store struct {
	pool    pgdb.Pool
	config  session.Config
	locator session.Locator
	now     func() time.Time
}

// NewStore builds a Store on db. locator may be nil.
func NewStore(db *pgdb.DB, cfg session.Config, locator session.Locator) *Store {
	return &Store{
		pool:    db.Pool,
		config:  cfg,
		locator: locator,
		now:     time.Now,
	}
}

func (s *Store) Create(ctx context.Context, in session.NewSession) (string, error) {
	if in.AccountID == "" {
		return "", errors.New("session: empty account id")
	}

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}
	id := ulid.Make().String()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, account_id, person_id, salt, remember_me, ip, user_agent, created_at, last_access, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)`,
		id, in.AccountID, in.PersonID, in.Salt, in.RememberMe, in.IP, in.UserAgent, now, now.Add(s.config.TTLFor(in.RememberMe)),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}

	return id, nil
}

func (s *Store) Info(ctx context.Context, accountID, sessionID string) (*session.Record, error) {
	rec, err := s.get(ctx, accountID, sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.Location = session.LocationLabel(ctx, s.locator, rec.IP)
	return rec, nil
}

func (s *Store) Salt(ctx context.Context, accountID, sessionID string) (string, error) {
	rec, err := s.get(ctx, accountID, sessionID)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.Salt, nil
}

func (s *Store) Update(ctx context.Context, accountID, sessionID, ip, userAgent string, now time.Time) (bool, error) {
	rec, err := s.get(ctx, accountID, sessionID)
	if err != nil || rec == nil {
		return false, err
	}
	if !s.config.ShouldRenew(rec, now) {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_access = $1, ip = $2, user_agent = $3, expires_at = $4
		 WHERE account_id = $5 AND id = $6`,
		now, ip, userAgent, now.Add(s.config.RememberTTL), accountID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Store) Remove(ctx context.Context, accountID, sessionID string) (bool, error) {
	if accountID == "" || sessionID == "" {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1 AND id = $2`, accountID, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RemoveAll(ctx context.Context, accountID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListActive(ctx context.Context, accountID string) ([]session.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM sessions WHERE account_id = $1 AND expires_at > $2 ORDER BY created_at`,
		accountID, s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}
	defer rows.Close()

	records := make([]session.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}

	session.Decorate(ctx, s.locator, records)
	return records, nil
}

// PurgeExpired deletes rows whose expiry has passed and returns how many.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// Ping returns a point-in-time availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.pool.Ping(ctx); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) get(ctx context.Context, accountID, sessionID string) (*session.Record, error) {
	if accountID == "" || sessionID == "" {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sessions WHERE account_id = $1 AND id = $2 AND expires_at > $3`,
		accountID, sessionID, s.now(),
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", pgdb.ErrUnavailable, err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*session.Record, error) {
	var rec session.Record
	err := row.Scan(
		&rec.SessionID,
		&rec.AccountID,
		&rec.PersonID,
		&rec.Salt,
		&rec.RememberMe,
		&rec.IP,
		&rec.UserAgent,
		&rec.CreatedAt,
		&rec.LastAccess,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
