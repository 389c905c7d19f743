package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// decoyPassword is hashed once at Build; unknown-user logins verify
// against it so they cost the same as a wrong password.
const decoyPassword = "decoy-password-0"

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  kv.Store

	users     UserStore
	hasher    password.Hasher
	now       func() time.Time
	logger    zerolog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the networked store. Build probes it once and falls back
// to the in-process store when it does not answer.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore bypasses backend selection and uses store directly.
func (b *Builder) WithStore(store kv.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithHasher replaces the password hashing primitive. Tests use it to
// substitute a fast fake.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink enables audit dispatch to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
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

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger.With().Str("component", "authcore").Logger()

	// -------- STORE --------
	store, backend := b.store, kv.Backend("custom")
	if store == nil {
		store, backend = kv.Open(context.Background(), b.redis, kv.OpenOptions{
			OpTimeout:    cfg.Store.OpTimeout,
			ProbeTimeout: cfg.Store.ProbeTimeout,
			Now:          now,
			Logger:       logger,
		})
	}

	// -------- TOKENS --------
	access, refresh, err := newJWTManagers(cfg.JWT, now)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewService(store, access, refresh)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		hasher, err = newHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
	}
	verifier := password.NewVerifier(hasher)
	decoy, err := verifier.Hash(decoyPassword)
	if err != nil {
		return nil, fmt.Errorf("decoy hash: %w", err)
	}

	engine := &Engine{
		config:    cfg,
		store:     store,
		backend:   backend,
		users:     b.users,
		verifier:  verifier,
		decoyHash: decoy,
		tokens:    tokens,
		sessions: session.NewManager(store, tokens, session.Config{
			MaxPerUser:      cfg.Session.MaxPerUser,
			TouchOnValidate: cfg.Session.TouchOnValidate,
			Now:             now,
			Logger:          logger,
		}),
		guard: lockout.NewGuard(store, lockout.Config{
			MaxAttempts: cfg.Lockout.MaxAttempts,
			Duration:    cfg.Lockout.Duration,
		}, now),
		limiter: rate.New(store, rate.Config{
			EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
			MaxLoginPerIP:         cfg.RateLimit.MaxLoginPerIP,
			LoginWindow:           cfg.RateLimit.LoginWindow,
			MaxRegisterPerIP:      cfg.RateLimit.MaxRegisterPerIP,
			RegisterWindow:        cfg.RateLimit.RegisterWindow,
			EnableRefreshThrottle: cfg.RateLimit.EnableRefreshThrottle,
			MaxRefreshPerSession:  cfg.RateLimit.MaxRefreshPerSession,
			RefreshWindow:         cfg.RateLimit.RefreshWindow,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		now:     now,
	}

	b.built = true

	return engine, nil
}

func newJWTManagers(cfg JWTConfig, now func() time.Time) (*jwt.Manager, *jwt.Manager, error) {
	method := jwt.SigningMethod(cfg.SigningMethod)

	accessCfg := jwt.Config{
		TTL:           cfg.AccessTTL,
		Type:          jwt.TypeAccess,
		SigningMethod: method,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Leeway:        cfg.Leeway,
		Now:           now,
	}
	refreshCfg := accessCfg
	refreshCfg.TTL = cfg.RefreshTTL
	refreshCfg.Type = jwt.TypeRefresh

	if method == jwt.MethodEd25519 {
		accessCfg.PrivateKey, accessCfg.PublicKey = cloneBytes(cfg.AccessPrivateKey), cloneBytes(cfg.AccessPublicKey)
		refreshCfg.PrivateKey, refreshCfg.PublicKey = cloneBytes(cfg.RefreshPrivateKey), cloneBytes(cfg.RefreshPublicKey)
	} else {
		accessCfg.PrivateKey = cloneBytes(cfg.AccessSecret)
		refreshCfg.PrivateKey = cloneBytes(cfg.RefreshSecret)
	}

	access, err := jwt.NewManager(accessCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("access token manager: %w", err)
	}
	refresh, err := jwt.NewManager(refreshCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh token manager: %w", err)
	}
	return access, refresh, nil
}

func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	if cfg.Algorithm == "argon2id" {
		return password.NewArgon2(cfg.Argon2)
	}
	return password.NewBcrypt(cfg.BcryptCost)
}
