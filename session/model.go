package session

import "time"

// Record is one login instance of an account.
type Record struct {
	SessionID  string
	AccountID  string
	PersonID   *string
	Salt       string
	CreatedAt  time.Time
	LastAccess time.Time
	RememberMe bool
	IP         string
	UserAgent  string

	// Location is derived from IP at read time and never persisted.
	Location string
}

// NewSession carries everything needed to open a session. IP and UserAgent
// come from the transport layer.
type NewSession struct {
	Salt       string
	AccountID  string
	PersonID   *string
	RememberMe bool
	IP         string
	UserAgent  string
	Now        time.Time
}

// Config tunes session lifetimes.
type Config struct {
	// Prefix namespaces every Redis key written by the store.
	Prefix string `yaml:"prefix"`
	// SessionTTL bounds sessions that were opened without remember-me.
	SessionTTL time.Duration `yaml:"ttl"`
	// RememberTTL is applied to remember-me sessions on create and renewal.
	RememberTTL time.Duration `yaml:"remember_ttl"`
	// RenewalThreshold is how stale LastAccess must be before a remember-me
	// session is renewed.
	RenewalThreshold time.Duration `yaml:"renewal_threshold"`
}

// DefaultConfig returns the lifetimes used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		Prefix:           "lbs",
		SessionTTL:       24 * time.Hour,
		RememberTTL:      30 * 24 * time.Hour,
		RenewalThreshold: 7 * 24 * time.Hour,
	}
}

// ShouldRenew reports whether rec is due for renewal at now.
func (c Config) ShouldRenew(rec *Record, now time.Time) bool {
	if rec == nil || !rec.RememberMe {
		return false
	}
	return now.Sub(rec.LastAccess) > c.RenewalThreshold
}

// TTLFor picks the lifetime for a session given its remember-me flag.
func (c Config) TTLFor(rememberMe bool) time.Duration {
	if rememberMe {
		return c.RememberTTL
	}
	return c.SessionTTL
}

func (c Config) indexTTL() time.Duration {
	if c.RememberTTL > c.SessionTTL {
		return c.RememberTTL
	}
	return c.SessionTTL
}
