// Package postgres is a PostgreSQL account repository for the directory.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/internal/pgdb"
)

const accountColumns = `a.id, a.username, a.title, a.locked, a.is_admin, a.person_id, a.password_hash, a.created_at`

// Repository implements directory.Repository on the accounts and persons
// tables.
type Repository struct {
	pool pgdb.Pool
}

func NewRepository(db *pgdb.DB) *Repository {
	return &Repository{pool: db.Pool}
}

func (r *Repository) AccountByID(ctx context.Context, id string) (*directory.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.id = $1`, id)
	return scanAccount(row)
}

func (r *Repository) AccountByUsername(ctx context.Context, username string) (*directory.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.username = $1`, username)
	return scanAccount(row)
}

func (r *Repository) AccountsByEmail(ctx context.Context, email string) ([]directory.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts a
		 JOIN persons p ON p.account_id = a.id
		 WHERE lower(p.email) = lower($1)
		 ORDER BY a.created_at, a.id`, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return collectAccounts(rows)
}

func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return exists, nil
}

func (r *Repository) PersonByID(ctx context.Context, id string) (*directory.Person, error) {
	var p directory.Person
	var accountID *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, account_id, email, first_name, last_name FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &accountID, &p.Email, &p.FirstName, &p.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	if accountID != nil {
		p.AccountID = *accountID
	}
	return &p, nil
}

// CreateAccount inserts the account and its person in one transaction.
func (r *Repository) CreateAccount(ctx context.Context, acc directory.Account, person directory.Person) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, username, title, locked, is_admin, person_id, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		acc.ID, acc.Username, acc.Title, acc.Locked, acc.IsAdmin, acc.PersonID, acc.PasswordHash, acc.CreatedAt,
	)
	if err != nil {
		return rollback(ctx, tx, err)
	}

	if person.ID != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO persons (id, account_id, email, first_name, last_name) VALUES ($1, $2, $3, $4, $5)`,
			person.ID, acc.ID, person.Email, person.FirstName, person.LastName,
		)
		if err != nil {
			return rollback(ctx, tx, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string) (bool, error) {
	return r.exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *Repository) SetLocked(ctx context.Context, id string, locked bool) (bool, error) {
	return r.exec(ctx, `UPDATE accounts SET locked = $2 WHERE id = $1`, id, locked)
}

func (r *Repository) SetAdmin(ctx context.Context, id string, admin bool) (bool, error) {
	return r.exec(ctx, `UPDATE accounts SET is_admin = $2 WHERE id = $1`, id, admin)
}

func (r *Repository) UpdateTitle(ctx context.Context, id, title string) (bool, error) {
	return r.exec(ctx, `UPDATE accounts SET title = $2 WHERE id = $1`, id, title)
}

func (r *Repository) UpdateUsername(ctx context.Context, id, username string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET username = $2 WHERE id = $1`, id, username)
	if err != nil {
		if pgdb.IsUniqueViolation(err) {
			return false, fmt.Errorf("%w: username %s", directory.ErrAccountExists, username)
		}
		return false, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAccount removes the account and the persons linked to it.
func (r *Repository) DeleteAccount(ctx context.Context, id string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM persons WHERE account_id = $1`, id); err != nil {
		return false, rollback(ctx, tx, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return false, rollback(ctx, tx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListAccounts(ctx context.Context, offset, limit int) ([]directory.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts a ORDER BY a.created_at, a.id OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return collectAccounts(rows)
}

func (r *Repository) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return n, nil
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) (bool, error) {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	_ = tx.Rollback(ctx)
	if pgdb.IsUniqueViolation(cause) {
		return fmt.Errorf("%w: %v", directory.ErrAccountExists, cause)
	}
	return fmt.Errorf("%w: %v", directory.ErrUnavailable, cause)
}

func scanAccount(row pgx.Row) (*directory.Account, error) {
	var acc directory.Account
	err := row.Scan(&acc.ID, &acc.Username, &acc.Title, &acc.Locked, &acc.IsAdmin, &acc.PersonID, &acc.PasswordHash, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return &acc, nil
}

func collectAccounts(rows pgx.Rows) ([]directory.Account, error) {
	defer rows.Close()

	out := make([]directory.Account, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	return out, nil
}
