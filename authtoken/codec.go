// Package authtoken signs and verifies the opaque session tokens handed to
// clients after login.
//
// A token is a compact HS256 JWS whose HMAC key is the salt of the session it
// names. Deleting or rotating that salt invalidates every token issued for the
// session without any blacklist.
package authtoken

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned by [Codec.Payload] when the token cannot
	// be decoded at all.
	ErrMalformedToken = errors.New("malformed token")
	// ErrEmptySalt is returned by [Codec.Generate] for an empty signing salt.
	ErrEmptySalt = errors.New("empty salt")
)

// Payload is the claim set embedded in every token.
type Payload struct {
	Acc  string  `json:"acc"`
	Prs  *string `json:"prs"`
	SSID string  `json:"ssid"`
}

type claims struct {
	Payload
	jwt.RegisteredClaims
}

// Codec generates and verifies session tokens. It holds no per-session state
// and is safe for concurrent use.
type Codec struct {
	parser *jwt.Parser
}

func New() *Codec {
	return &Codec{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Generate signs payload with salt. Output is stable for identical inputs.
func (c *Codec) Generate(payload Payload, salt string) (string, error) {
	if salt == "" {
		return "", ErrEmptySalt
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{Payload: payload})
	signed, err := token.SignedString([]byte(salt))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify reports whether token carries a valid signature under salt.
// Any parse failure yields false.
func (c *Codec) Verify(token, salt string) bool {
	if token == "" || salt == "" {
		return false
	}

	parsed, err := c.parser.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return []byte(salt), nil
	})
	if err != nil {
		return false
	}
	return parsed.Valid
}

// Payload decodes the claims without checking the signature.
func (c *Codec) Payload(token string) (Payload, error) {
	var out claims
	if _, _, err := c.parser.ParseUnverified(token, &out); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if out.Acc == "" || out.SSID == "" {
		return Payload{}, fmt.Errorf("%w: missing acc or ssid claim", ErrMalformedToken)
	}
	return out.Payload, nil
}
