// Package directory owns account records: lookup, creation, credential checks,
// password changes and password-reset tokens.
//
// Storage is abstracted behind [Repository]; credential checks behind
// [Authenticator], so accounts can be verified locally against stored hashes
// or remotely against the Loginbox API.
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidArgument marks caller input that can never succeed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by repositories when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrAccountExists is returned when a username or email is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrUnavailable wraps backend failures of the directory itself.
	ErrUnavailable = errors.New("directory backend unavailable")
)

// Account is a login identity. PersonID is nil when no person is linked.
type Account struct {
	ID           string
	Username     string
	Title        string
	Locked       bool
	IsAdmin      bool
	PersonID     *string
	PasswordHash string
	CreatedAt    time.Time
}

// Person holds contact details linked to an account.
type Person struct {
	ID        string
	AccountID string
	Email     string
	FirstName string
	LastName  string
}

// Repository is the persistence contract for accounts and persons.
// Lookups of a single record return ErrNotFound when nothing matches.
// Mutations report whether a row was changed.
type Repository interface {
	AccountByID(ctx context.Context, id string) (*Account, error)
	AccountByUsername(ctx context.Context, username string) (*Account, error)
	AccountsByEmail(ctx context.Context, email string) ([]Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	PersonByID(ctx context.Context, id string) (*Person, error)

	// CreateAccount stores acc and person together. It returns
	// ErrAccountExists on a username or email collision.
	CreateAccount(ctx context.Context, acc Account, person Person) error

	UpdatePasswordHash(ctx context.Context, id, hash string) (bool, error)
	SetLocked(ctx context.Context, id string, locked bool) (bool, error)
	SetAdmin(ctx context.Context, id string, admin bool) (bool, error)
	UpdateTitle(ctx context.Context, id, title string) (bool, error)
	UpdateUsername(ctx context.Context, id, username string) (bool, error)

	// DeleteAccount removes the account and every person linked to it.
	DeleteAccount(ctx context.Context, id string) (bool, error)

	ListAccounts(ctx context.Context, offset, limit int) ([]Account, error)
	CountAccounts(ctx context.Context) (int, error)
}
