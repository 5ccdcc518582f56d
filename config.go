package identity

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loginbox/identity/directory"
	"github.com/loginbox/identity/internal/audit"
	"github.com/loginbox/identity/internal/rate"
	"github.com/loginbox/identity/loginbox"
	"github.com/loginbox/identity/password"
	"github.com/loginbox/identity/session"
	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full engine configuration. Every section has a usable
// default; DefaultConfig returns them all.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Token     TokenConfig     `yaml:"token"`
	Password  password.Config `yaml:"password"`
	Reset     ResetConfig     `yaml:"reset"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     audit.Config    `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Loginbox  LoginboxConfig  `yaml:"loginbox"`
	Geo       GeoConfig       `yaml:"geo"`
	Cookie    CookieConfig    `yaml:"cookie"`
}

/*
====================================
SESSION
====================================
*/

// SessionConfig picks the session backend and its lifetimes.
type SessionConfig struct {
	Backend        string `yaml:"backend"`
	session.Config `yaml:",inline"`
}

/*
====================================
TOKEN
====================================
*/

// TokenConfig bounds what the codec is asked to parse.
type TokenConfig struct {
	// MaxLength rejects longer tokens as malformed before any decoding.
	MaxLength int `yaml:"max_length"`
}

/*
====================================
PASSWORD RESET
====================================
*/

type ResetConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Prefix      string        `yaml:"prefix"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

/*
====================================
RATE LIMITING
====================================
*/

type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	rate.Config `yaml:",inline"`
}

/*
====================================
METRICS
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
BACKENDS
====================================
*/

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// LoginboxConfig switches credential checks to the remote Loginbox API.
type LoginboxConfig struct {
	Enabled         bool `yaml:"enabled"`
	loginbox.Config `yaml:",inline"`
}

type GeoConfig struct {
	// TablePath points to a YAML network table; empty disables locations.
	TablePath string `yaml:"table_path"`
}

/*
====================================
COOKIE
====================================
*/

// CookieConfig describes the cookie that carries the auth token.
type CookieConfig struct {
	Name     string        `yaml:"name"`
	MaxAge   time.Duration `yaml:"max_age"`
	Domain   string        `yaml:"domain"`
	Path     string        `yaml:"path"`
	Secure   bool          `yaml:"secure"`
	HTTPOnly bool          `yaml:"http_only"`
	SameSite http.SameSite `yaml:"same_site"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a Redis-backed configuration with local password
// checks, rate limiting on and audit/metrics off.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Backend: BackendRedis,
			Config:  session.DefaultConfig(),
		},
		Token: TokenConfig{
			MaxLength: 4096,
		},
		Password: password.DefaultConfig(),
		Reset: ResetConfig{
			Enabled:     true,
			Prefix:      "lbr",
			TTL:         directory.DefaultResetTTL,
			MaxAttempts: directory.DefaultResetMaxAttempts,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Config:  rate.DefaultConfig(),
		},
		Audit: audit.Config{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Cookie: CookieConfig{
			Name:     "__awt",
			MaxAge:   30 * 24 * time.Hour,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}
}

/*
====================================
LOADING
====================================
*/

// LoadConfig reads path over DefaultConfig, applies IDENTITY_* environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		*dst = b
		return nil
	}

	str("IDENTITY_SESSION_BACKEND", &c.Session.Backend)
	str("IDENTITY_REDIS_ADDR", &c.Redis.Addr)
	str("IDENTITY_REDIS_PASSWORD", &c.Redis.Password)
	str("IDENTITY_POSTGRES_DSN", &c.Postgres.DSN)
	str("IDENTITY_LOGINBOX_API_KEY", &c.Loginbox.APIKey)
	str("IDENTITY_GEO_TABLE", &c.Geo.TablePath)

	if v, ok := lookup("IDENTITY_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: IDENTITY_REDIS_DB: %v", ErrInvalidConfig, err)
		}
		c.Redis.DB = n
	}
	if err := boolean("IDENTITY_LOGINBOX_ENABLED", &c.Loginbox.Enabled); err != nil {
		return err
	}
	if err := boolean("IDENTITY_AUDIT_ENABLED", &c.Audit.Enabled); err != nil {
		return err
	}
	return boolean("IDENTITY_METRICS_ENABLED", &c.Metrics.Enabled)
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency as an ErrInvalidConfig error.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
	}

	switch strings.ToLower(c.Session.Backend) {
	case BackendRedis, BackendPostgres:
	default:
		return invalid("unknown session backend %q", c.Session.Backend)
	}
	if c.Session.SessionTTL <= 0 {
		return invalid("session ttl must be > 0")
	}
	if c.Session.RememberTTL < c.Session.SessionTTL {
		return invalid("session remember_ttl must be >= ttl")
	}
	if c.Session.RenewalThreshold <= 0 || c.Session.RenewalThreshold >= c.Session.RememberTTL {
		return invalid("session renewal_threshold must be in (0, remember_ttl)")
	}

	if c.Token.MaxLength <= 0 {
		return invalid("token max_length must be > 0")
	}

	if c.Password.MinPasswordBytes < 0 || c.Password.MaxPasswordBytes < c.Password.MinPasswordBytes {
		return invalid("password length bounds are inconsistent")
	}

	if c.Reset.Enabled {
		if c.Reset.TTL <= 0 {
			return invalid("reset ttl must be > 0")
		}
		if c.Reset.MaxAttempts <= 0 {
			return invalid("reset max_attempts must be > 0")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginFailures > 0 && c.RateLimit.LoginWindow <= 0 {
			return invalid("rate_limit login_window must be > 0")
		}
		if c.RateLimit.MaxResetRequests > 0 && c.RateLimit.ResetWindow <= 0 {
			return invalid("rate_limit reset_window must be > 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalid("audit buffer_size must be > 0")
	}

	if c.Loginbox.Enabled && c.Loginbox.APIKey == "" {
		return invalid("loginbox api_key is required when loginbox is enabled")
	}

	if c.Cookie.Name == "" {
		return invalid("cookie name is required")
	}
	if c.Cookie.MaxAge < 0 {
		return invalid("cookie max_age must be >= 0")
	}

	return nil
}
