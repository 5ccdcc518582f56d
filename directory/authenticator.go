package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/loginbox/identity/loginbox"
	"github.com/loginbox/identity/password"
	"go.uber.org/zap"
)

// Authenticator decides whether a username/password pair is valid. An
// unknown user and a wrong password both report false with a nil error.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// LocalAuthenticator checks credentials against hashes held by a Repository.
type LocalAuthenticator struct {
	repo   Repository
	hasher *password.Hasher
	logger *zap.Logger
}

func NewLocalAuthenticator(repo Repository, hasher *password.Hasher, logger *zap.Logger) *LocalAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalAuthenticator{repo: repo, hasher: hasher, logger: logger}
}

// Authenticate resolves username directly, then by email. Legacy or weak
// hashes are rewritten after a successful check; a failed rewrite is logged
// and does not affect the result.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, username, pw string) (bool, error) {
	acc, err := lookup(ctx, a.repo, username, true)
	if err != nil {
		return false, err
	}
	if acc == nil || acc.PasswordHash == "" {
		a.hasher.VerifyDummy(pw)
		return false, nil
	}

	ok, err := a.hasher.Verify(pw, acc.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			a.logger.Warn("stored password hash is unreadable", zap.String("account_id", acc.ID), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}

	if upgrade, uerr := a.hasher.NeedsUpgrade(acc.PasswordHash); uerr == nil && upgrade {
		a.rehash(ctx, acc.ID, pw)
	}
	return true, nil
}

func (a *LocalAuthenticator) rehash(ctx context.Context, accountID, pw string) {
	hash, err := a.hasher.Hash(pw)
	if err != nil {
		a.logger.Warn("password rehash failed", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	if _, err := a.repo.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		a.logger.Warn("password rehash not stored", zap.String("account_id", accountID), zap.Error(err))
	}
}

// RemoteAuthenticator delegates credential checks to the Loginbox API.
type RemoteAuthenticator struct {
	client *loginbox.Client
}

func NewRemoteAuthenticator(client *loginbox.Client) *RemoteAuthenticator {
	return &RemoteAuthenticator{client: client}
}

func (a *RemoteAuthenticator) Authenticate(ctx context.Context, username, pw string) (bool, error) {
	resp, err := a.client.Post(ctx, "authenticate", url.Values{
		"username": {username},
		"password": {pw},
	})
	if err != nil {
		if errors.Is(err, loginbox.ErrInvalidCredentials) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status, ok := resp.Field("status")
	if !ok {
		return false, nil
	}
	return truthy(status), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "0" && s != "false"
	default:
		return false
	}
}
