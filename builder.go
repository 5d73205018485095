package tokenauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aivle-project/tokenauth/denylist"
	internalaudit "github.com/aivle-project/tokenauth/internal/audit"
	"github.com/aivle-project/tokenauth/internal/limiters"
	"github.com/aivle-project/tokenauth/internal/rate"
	"github.com/aivle-project/tokenauth/jwt"
	"github.com/aivle-project/tokenauth/password"
	"github.com/aivle-project/tokenauth/session"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	durable         session.DurableStore
	accounts        AccountProvider
	verifier        CredentialVerifier
	principals      PrincipalLookup
	credentialStore CredentialStore

	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the fast store client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDurableStore sets the refresh-token system of record. Required.
func (b *Builder) WithDurableStore(store session.DurableStore) *Builder {
	b.durable = store
	return b
}

// WithAccountProvider derives the credential verifier, principal lookup and
// credential store from provider. Explicitly set collaborators win.
func (b *Builder) WithAccountProvider(provider AccountProvider) *Builder {
	b.accounts = provider
	return b
}

func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithPrincipalLookup(l PrincipalLookup) *Builder {
	b.principals = l
	return b
}

func (b *Builder) WithCredentialStore(s CredentialStore) *Builder {
	b.credentialStore = s
	return b
}

// WithAuditSink sets the audit destination. Auditing also needs
// Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for best-effort failures. Defaults to a
// no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
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

// WithClock replaces the engine's time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.durable == nil {
		return nil, errors.New("durable refresh-token store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinPasswordBytes,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	verifier, principals, credentialStore := b.verifier, b.principals, b.credentialStore
	if b.accounts != nil {
		av := NewAccountVerifier(b.accounts, hasher).WithLogger(b.logger.Named("tokenauth.accounts"))
		if verifier == nil {
			verifier = av
		}
		if principals == nil {
			principals = av
		}
		if credentialStore == nil {
			credentialStore = av
		}
	}
	if verifier == nil {
		return nil, errors.New("credential verifier or account provider required")
	}
	if principals == nil {
		return nil, errors.New("principal lookup or account provider required")
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	jm.WithClock(b.now)

	engine := &Engine{
		config:          cfg,
		logger:          b.logger.Named("tokenauth"),
		now:             b.now,
		metrics:         NewMetrics(cfg.Metrics),
		hasher:          hasher,
		jwtManager:      jm,
		issuer:          NewTokenIssuer(jm, cfg.JWT.RefreshTTL),
		verifier:        verifier,
		principals:      principals,
		credentialStore: credentialStore,
	}

	engine.sessionStore = session.NewStore(b.redis, b.durable, cfg.JWT.RefreshTTL).WithClock(b.now)
	engine.sessionStore.OnRehydrate(engine.onRehydrate)
	engine.denylist = denylist.NewStore(b.redis).WithClock(b.now)
	engine.guard = limiters.NewLoginAttemptGuard(b.redis, limiters.LoginAttemptConfig{
		MaxFailures:   cfg.LoginAttempt.MaxFailures,
		LockDuration:  cfg.LoginAttempt.LockDuration,
		FailureWindow: cfg.LoginAttempt.FailureWindow,
	})
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableLoginThrottle:   cfg.RateLimit.EnableLoginThrottle,
		MaxLoginPerIP:         cfg.RateLimit.MaxLoginPerIP,
		LoginWindow:           cfg.RateLimit.LoginWindow,
		EnableRefreshThrottle: cfg.RateLimit.EnableRefreshThrottle,
		MaxRefreshPerIP:       cfg.RateLimit.MaxRefreshPerIP,
		RefreshWindow:         cfg.RateLimit.RefreshWindow,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.initFlows()

	b.built = true
	return engine, nil
}
