// Package random produces the unpredictable identifiers and secrets used by
// sessions and password resets.
package random

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ID is a 128-bit identifier rendered as unpadded base64url. Session ids and
// reset ids share it.
type ID [16]byte

// ResetSecret is the half of a reset token that is never stored.
type ResetSecret [32]byte

const saltBytes = 32

var enc = base64.RawURLEncoding

func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("random id: %w", err)
	}
	return id, nil
}

func (id ID) String() string {
	return enc.EncodeToString(id[:])
}

func ParseID(s string) (ID, error) {
	var id ID
	raw, err := enc.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("id is %d bytes, want %d", len(raw), len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// NewSalt returns a hex encoded 256-bit per-session signing key.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func NewResetSecret() (ResetSecret, error) {
	var s ResetSecret
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("random reset secret: %w", err)
	}
	return s, nil
}

// Hash is what the reset store keeps in place of the secret.
func (s ResetSecret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// EncodeResetToken packs a reset id and its secret into one url-safe string.
func EncodeResetToken(resetID ID, secret ResetSecret) string {
	raw := make([]byte, 0, len(resetID)+len(secret))
	raw = append(raw, resetID[:]...)
	raw = append(raw, secret[:]...)
	return enc.EncodeToString(raw)
}

func DecodeResetToken(token string) (ID, ResetSecret, error) {
	var (
		id     ID
		secret ResetSecret
	)
	raw, err := enc.DecodeString(token)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != len(id)+len(secret) {
		return id, secret, fmt.Errorf("reset token is %d bytes, want %d", len(raw), len(id)+len(secret))
	}
	copy(id[:], raw)
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}
