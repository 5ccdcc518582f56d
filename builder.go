package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loginbox/identity/authtoken"
	"github.com/loginbox/identity/directory"
	dirpostgres "github.com/loginbox/identity/directory/postgres"
	"github.com/loginbox/identity/geo"
	"github.com/loginbox/identity/internal/audit"
	"github.com/loginbox/identity/internal/migrate"
	"github.com/loginbox/identity/internal/pgdb"
	"github.com/loginbox/identity/internal/rate"
	"github.com/loginbox/identity/loginbox"
	"github.com/loginbox/identity/password"
	"github.com/loginbox/identity/session"
	sessionpostgres "github.com/loginbox/identity/session/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Collaborators that are not supplied are
// derived from the Config: Redis or Postgres session store, Postgres or
// in-memory account repository, local or Loginbox authentication.
//
// A Builder can be used once.
type Builder struct {
	config Config
	logger *zap.Logger

	redis    redis.UniversalClient
	postgres *pgdb.DB

	sessions      SessionStore
	directory     AccountDirectory
	repository    directory.Repository
	authenticator directory.Authenticator
	codec         TokenCodec
	locator       session.Locator
	auditSink     AuditSink

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the pool used by the Postgres session store and
// account repository.
func (b *Builder) WithPostgres(db *pgdb.DB) *Builder {
	b.postgres = db
	return b
}

func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithDirectory replaces the whole account service. Repository and
// authenticator options are ignored when it is set.
func (b *Builder) WithDirectory(dir AccountDirectory) *Builder {
	b.directory = dir
	return b
}

func (b *Builder) WithRepository(repo directory.Repository) *Builder {
	b.repository = repo
	return b
}

func (b *Builder) WithAuthenticator(auth directory.Authenticator) *Builder {
	b.authenticator = auth
	return b
}

func (b *Builder) WithTokenCodec(codec TokenCodec) *Builder {
	b.codec = codec
	return b
}

func (b *Builder) WithLocator(locator session.Locator) *Builder {
	b.locator = locator
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := b.config
	cfg.Session.Backend = strings.ToLower(cfg.Session.Backend)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:  cfg,
		logger:  logger,
		codec:   b.codec,
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}
	if e.codec == nil {
		e.codec = authtoken.New()
	}

	// -------- BACKENDS --------
	if b.postgres == nil && cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if cfg.Postgres.AutoMigrate {
			if err := migrate.Up(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("%w: migrate: %v", ErrPersistence, err)
			}
		}
		db, err := pgdb.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres: %v", ErrPersistence, err)
		}
		b.postgres = db
		e.closers = append(e.closers, db.Close)
	}

	locator := b.locator
	if locator == nil && cfg.Geo.TablePath != "" {
		table, err := geo.Load(cfg.Geo.TablePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		locator = table
	}

	// -------- SESSION STORE --------
	e.sessions = b.sessions
	if e.sessions == nil {
		switch cfg.Session.Backend {
		case BackendPostgres:
			if b.postgres == nil {
				return nil, fmt.Errorf("%w: postgres session backend requires a database", ErrInvalidConfig)
			}
			e.sessions = sessionpostgres.NewStore(b.postgres, cfg.Session.Config, locator)
		default:
			if b.redis == nil {
				return nil, fmt.Errorf("%w: redis session backend requires a redis client", ErrInvalidConfig)
			}
			e.sessions = session.NewStore(b.redis, cfg.Session.Config, locator)
		}
	}

	// -------- DIRECTORY --------
	e.directory = b.directory
	if e.directory == nil {
		dir, err := b.buildDirectory(cfg, logger)
		if err != nil {
			return nil, err
		}
		e.directory = dir
	}

	// -------- RATE LIMITS --------
	if cfg.RateLimit.Enabled && b.redis != nil {
		e.limiter = rate.New(b.redis, cfg.RateLimit.Config)
	} else if cfg.RateLimit.Enabled {
		logger.Warn("rate limiting needs redis; running without it")
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}
	e.audit = audit.NewDispatcher(cfg.Audit, sink)

	return e, nil
}

func (b *Builder) buildDirectory(cfg Config, logger *zap.Logger) (*directory.Directory, error) {
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	repo := b.repository
	if repo == nil {
		if b.postgres != nil {
			repo = dirpostgres.NewRepository(b.postgres)
		} else {
			logger.Warn("no account repository configured; using in-memory accounts")
			repo = directory.NewMemoryRepository()
		}
	}

	auth := b.authenticator
	if auth == nil && cfg.Loginbox.Enabled {
		client, err := loginbox.New(cfg.Loginbox.Config, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		auth = directory.NewRemoteAuthenticator(client)
	}

	var resets *directory.ResetStore
	if cfg.Reset.Enabled && b.redis != nil {
		resets = directory.NewResetStore(b.redis, cfg.Reset.Prefix)
	}

	return directory.New(directory.Options{
		Repository:       repo,
		Authenticator:    auth,
		Hasher:           hasher,
		Resets:           resets,
		ResetTTL:         cfg.Reset.TTL,
		ResetMaxAttempts: cfg.Reset.MaxAttempts,
		Logger:           logger,
	})
}
