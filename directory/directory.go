package directory

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loginbox/identity/internal/random"
	"github.com/loginbox/identity/password"
	"go.uber.org/zap"
)

const (
	DefaultListCount        = 50
	DefaultResetTTL         = 30 * time.Minute
	DefaultResetMaxAttempts = 5

	maxUsernameSuffix = 99
	createRetries     = 3
)

// ErrResetDisabled is returned by reset operations when no ResetStore is set.
var ErrResetDisabled = errors.New("password reset not configured")

// Options wires a Directory. Repository and Hasher are required. A nil
// Authenticator defaults to a LocalAuthenticator over Repository.
type Options struct {
	Repository       Repository
	Authenticator    Authenticator
	Hasher           *password.Hasher
	Resets           *ResetStore
	ResetTTL         time.Duration
	ResetMaxAttempts int
	Logger           *zap.Logger
}

// Directory is the account service used by the session layer.
type Directory struct {
	repo             Repository
	auth             Authenticator
	hasher           *password.Hasher
	resets           *ResetStore
	resetTTL         time.Duration
	resetMaxAttempts int
	logger           *zap.Logger
	now              func() time.Time
}

func New(opts Options) (*Directory, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidArgument)
	}
	if opts.Hasher == nil {
		return nil, fmt.Errorf("%w: hasher is required", ErrInvalidArgument)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Authenticator == nil {
		opts.Authenticator = NewLocalAuthenticator(opts.Repository, opts.Hasher, opts.Logger)
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = DefaultResetTTL
	}
	if opts.ResetMaxAttempts <= 0 {
		opts.ResetMaxAttempts = DefaultResetMaxAttempts
	}

	return &Directory{
		repo:             opts.Repository,
		auth:             opts.Authenticator,
		hasher:           opts.Hasher,
		resets:           opts.Resets,
		resetTTL:         opts.ResetTTL,
		resetMaxAttempts: opts.ResetMaxAttempts,
		logger:           opts.Logger,
		now:              time.Now,
	}, nil
}

// Authenticate checks a username/password pair.
func (d *Directory) Authenticate(ctx context.Context, username, pw string) (bool, error) {
	if username == "" || pw == "" {
		return false, fmt.Errorf("%w: username and password are required", ErrInvalidArgument)
	}
	return d.auth.Authenticate(ctx, username, pw)
}

// ByUsername returns accounts matching username. With includeEmail an email
// match is tried when no username matches. Without returnAll at most one
// account is returned.
func (d *Directory) ByUsername(ctx context.Context, username string, includeEmail, returnAll bool) ([]Account, error) {
	if username == "" {
		return nil, nil
	}

	acc, err := d.repo.AccountByUsername(ctx, username)
	switch {
	case err == nil:
		return []Account{*acc}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if !includeEmail {
		return nil, nil
	}

	accounts, err := d.repo.AccountsByEmail(ctx, username)
	if err != nil {
		return nil, err
	}
	if !returnAll && len(accounts) > 1 {
		accounts = accounts[:1]
	}
	return accounts, nil
}

// FindByUsername returns the first match of ByUsername or nil.
func (d *Directory) FindByUsername(ctx context.Context, username string, includeEmail bool) (*Account, error) {
	return lookup(ctx, d.repo, username, includeEmail)
}

// ByID returns the account or nil when it does not exist.
func (d *Directory) ByID(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, nil
	}
	acc, err := d.repo.AccountByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return acc, err
}

// Person returns the person with id or nil when it does not exist.
func (d *Directory) Person(ctx context.Context, id string) (*Person, error) {
	if id == "" {
		return nil, nil
	}
	p, err := d.repo.PersonByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// Create registers an account and its person. The username is derived from
// the email local part and made unique with a numeric suffix.
func (d *Directory) Create(ctx context.Context, email, firstName, lastName, pw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidArgument, email)
	}
	email = addr.Address

	if err := d.hasher.CheckPolicy(pw); err != nil {
		return "", err
	}

	existing, err := d.repo.AccountsByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return "", fmt.Errorf("%w: email %s", ErrAccountExists, email)
	}

	hash, err := d.hasher.Hash(pw)
	if err != nil {
		return "", err
	}

	base := usernameBase(email)
	for attempt := 0; attempt < createRetries; attempt++ {
		username, err := d.uniqueUsername(ctx, base)
		if err != nil {
			return "", err
		}

		personID := uuid.NewString()
		acc := Account{
			ID:           uuid.NewString(),
			Username:     username,
			Title:        strings.TrimSpace(firstName + " " + lastName),
			PersonID:     &personID,
			PasswordHash: hash,
			CreatedAt:    d.now().UTC(),
		}
		person := Person{
			ID:        personID,
			AccountID: acc.ID,
			Email:     email,
			FirstName: firstName,
			LastName:  lastName,
		}

		err = d.repo.CreateAccount(ctx, acc, person)
		if err == nil {
			return acc.ID, nil
		}
		if !errors.Is(err, ErrAccountExists) {
			return "", err
		}
		d.logger.Debug("account create collided, retrying", zap.String("username", username), zap.Int("attempt", attempt))
	}

	return "", fmt.Errorf("%w: could not allocate username for %s", ErrAccountExists, email)
}

func (d *Directory) uniqueUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 1; i <= maxUsernameSuffix+1; i++ {
		taken, err := d.repo.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12], nil
}

func usernameBase(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.ToLower(local)
	if local == "" {
		return "user"
	}
	return local
}

// HashPassword checks the policy and hashes pw with the current parameters.
func (d *Directory) HashPassword(pw string) (string, error) {
	if err := d.hasher.CheckPolicy(pw); err != nil {
		return "", err
	}
	return d.hasher.Hash(pw)
}

func (d *Directory) UpdatePassword(ctx context.Context, accountID, newHash string) (bool, error) {
	if accountID == "" || newHash == "" {
		return false, fmt.Errorf("%w: account id and hash are required", ErrInvalidArgument)
	}
	return d.repo.UpdatePasswordHash(ctx, accountID, newHash)
}

// GeneratePasswordResetToken stores a single-use reset secret for accountID
// and returns the token to hand to the account owner.
func (d *Directory) GeneratePasswordResetToken(ctx context.Context, accountID string) (string, error) {
	if d.resets == nil {
		return "", ErrResetDisabled
	}
	acc, err := d.ByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acc == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}

	rid, err := random.NewID()
	if err != nil {
		return "", err
	}
	secret, err := random.NewResetSecret()
	if err != nil {
		return "", err
	}
	resetID := rid.String()
	token := random.EncodeResetToken(rid, secret)

	rec := &ResetRecord{
		AccountID:  acc.ID,
		SecretHash: secret.Hash(),
		ExpiresAt:  d.now().Add(d.resetTTL).Unix(),
	}
	if err := d.resets.Save(ctx, resetID, rec, d.resetTTL); err != nil {
		return "", err
	}
	return token, nil
}

// RedeemPasswordResetToken burns token and returns the account it was issued
// for. Unknown, expired, mismatched or exhausted tokens return "".
func (d *Directory) RedeemPasswordResetToken(ctx context.Context, token string) (string, error) {
	if d.resets == nil {
		return "", ErrResetDisabled
	}
	rid, secret, err := random.DecodeResetToken(token)
	if err != nil {
		return "", nil
	}

	rec, err := d.resets.Consume(ctx, rid.String(), secret.Hash(), d.resetMaxAttempts)
	switch {
	case err == nil:
		return rec.AccountID, nil
	case errors.Is(err, ErrResetNotFound),
		errors.Is(err, ErrResetSecretMismatch),
		errors.Is(err, ErrResetAttemptsExceeded):
		return "", nil
	default:
		return "", err
	}
}

// ConsumePasswordResetToken redeems token and stores newHash for its account.
func (d *Directory) ConsumePasswordResetToken(ctx context.Context, token, newHash string) (bool, error) {
	accountID, err := d.RedeemPasswordResetToken(ctx, token)
	if err != nil || accountID == "" {
		return false, err
	}
	return d.UpdatePassword(ctx, accountID, newHash)
}

// Remove deletes the account and its persons.
func (d *Directory) Remove(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, nil
	}
	return d.repo.DeleteAccount(ctx, accountID)
}

func (d *Directory) SetLocked(ctx context.Context, accountID string, locked bool) (bool, error) {
	return d.repo.SetLocked(ctx, accountID, locked)
}

func (d *Directory) SetAdmin(ctx context.Context, accountID string, admin bool) (bool, error) {
	return d.repo.SetAdmin(ctx, accountID, admin)
}

func (d *Directory) UpdateTitle(ctx context.Context, accountID, title string) (bool, error) {
	return d.repo.UpdateTitle(ctx, accountID, strings.TrimSpace(title))
}

// UpdateUsername renames an account. A name held by another account returns
// ErrAccountExists.
func (d *Directory) UpdateUsername(ctx context.Context, accountID, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, fmt.Errorf("%w: empty username", ErrInvalidArgument)
	}

	current, err := d.repo.AccountByUsername(ctx, username)
	switch {
	case err == nil && current.ID == accountID:
		return false, nil
	case err == nil:
		return false, fmt.Errorf("%w: username %s", ErrAccountExists, username)
	case !errors.Is(err, ErrNotFound):
		return false, err
	}
	return d.repo.UpdateUsername(ctx, accountID, username)
}

// List pages through accounts ordered by creation. count <= 0 means
// DefaultListCount.
func (d *Directory) List(ctx context.Context, start, count int) ([]Account, error) {
	if start < 0 {
		start = 0
	}
	if count <= 0 {
		count = DefaultListCount
	}
	return d.repo.ListAccounts(ctx, start, count)
}

func (d *Directory) Count(ctx context.Context) (int, error) {
	return d.repo.CountAccounts(ctx)
}

func lookup(ctx context.Context, repo Repository, username string, includeEmail bool) (*Account, error) {
	if username == "" {
		return nil, nil
	}
	acc, err := repo.AccountByUsername(ctx, username)
	switch {
	case err == nil:
		return acc, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if !includeEmail {
		return nil, nil
	}

	accounts, err := repo.AccountsByEmail(ctx, username)
	if err != nil || len(accounts) == 0 {
		return nil, err
	}
	return &accounts[0], nil
}
