package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter budgets. A zero budget disables that limiter.
type Config struct {
	Prefix           string        `yaml:"prefix"`
	EnableIPThrottle bool          `yaml:"enable_ip_throttle"`
	MaxLoginFailures int           `yaml:"max_login_failures"`
	LoginWindow      time.Duration `yaml:"login_window"`
	MaxResetRequests int           `yaml:"max_reset_requests"`
	ResetWindow      time.Duration `yaml:"reset_window"`
}

// DefaultConfig allows 10 failed logins per 15 minutes and 3 reset requests
// per hour.
func DefaultConfig() Config {
	return Config{
		Prefix:           "lbl",
		EnableIPThrottle: true,
		MaxLoginFailures: 10,
		LoginWindow:      15 * time.Minute,
		MaxResetRequests: 3,
		ResetWindow:      time.Hour,
	}
}

// Limiter enforces the login and reset budgets.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckLogin reports ErrRateLimited when username or ip already spent the
// failed-login budget. It does not count an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	if l.config.MaxLoginFailures <= 0 {
		return nil
	}
	for _, key := range l.loginKeys(username, ip) {
		if err := l.checkCounter(ctx, key, l.config.MaxLoginFailures); err != nil {
			return err
		}
	}
	return nil
}

// RecordLoginFailure counts a failed login for username and ip.
func (l *Limiter) RecordLoginFailure(ctx context.Context, username, ip string) error {
	if l.config.MaxLoginFailures <= 0 {
		return nil
	}
	for _, key := range l.loginKeys(username, ip) {
		if _, err := l.incrementWithTTL(ctx, key, l.config.LoginWindow); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the username counter after a successful login. The ip
// counter is left alone so one good account cannot launder a sprayed address.
func (l *Limiter) ResetLogin(ctx context.Context, username string) error {
	if err := l.redis.Del(ctx, l.key("l:", username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginFailures returns the current failed-login count for username.
func (l *Limiter) LoginFailures(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, l.key("l:", username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// AllowResetRequest counts one reset request and reports ErrRateLimited once
// the window budget is exceeded.
func (l *Limiter) AllowResetRequest(ctx context.Context, username, ip string) error {
	if l.config.MaxResetRequests <= 0 {
		return nil
	}

	keys := []string{l.key("r:", username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.key("rip:", ip))
	}
	for _, key := range keys {
		count, err := l.incrementWithTTL(ctx, key, l.config.ResetWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxResetRequests) {
			return ErrRateLimited
		}
	}
	return nil
}

func (l *Limiter) loginKeys(username, ip string) []string {
	keys := []string{l.key("l:", username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.key("lip:", ip))
	}
	return keys
}

func (l *Limiter) key(kind, id string) string {
	return l.config.Prefix + ":" + kind + strings.ToLower(id)
}

func (l *Limiter) checkCounter(ctx context.Context, key string, budget int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(budget) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
