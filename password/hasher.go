package password

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes new passwords with Argon2id and verifies both Argon2id and
// legacy bcrypt hashes.
type Hasher struct {
	argon *Argon2

	dummyOnce sync.Once
	dummy     string
}

func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: argon}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// CheckPolicy validates password length without hashing.
func (h *Hasher) CheckPolicy(password string) error {
	return h.argon.CheckPolicy(password)
}

// Verify checks password against encodedHash in either supported format.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isArgon2Hash(encodedHash):
		return h.argon.Verify(password, encodedHash)
	case isBcryptHash(encodedHash):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
	default:
		return false, fmt.Errorf("%w: unrecognized format", ErrInvalidHash)
	}
}

// NeedsUpgrade is true for every bcrypt hash and for Argon2id hashes made
// with weaker parameters.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	if isBcryptHash(encodedHash) {
		return true, nil
	}
	return h.argon.NeedsUpgrade(encodedHash)
}

// VerifyDummy burns the same work as a real verification. Callers use it when
// the account does not exist so response time does not reveal that.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		hash, err := h.argon.Hash(strings.Repeat("x", h.argon.config.MinPasswordBytes))
		if err == nil {
			h.dummy = hash
		}
	})
	if h.dummy == "" {
		return
	}
	_, _ = h.argon.Verify(password, h.dummy)
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
