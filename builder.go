package deskauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/deskauth/internal/limiters"
	"github.com/MrEthical07/deskauth/jwt"
	"github.com/MrEthical07/deskauth/lock"
	"github.com/MrEthical07/deskauth/refresh"
	"github.com/MrEthical07/deskauth/tokens"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the store shared by locks, failure counters and refresh tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the user-lookup collaborator.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token timestamps and audit events.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the CheckAccessToken latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- ACCESS TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	}, jwt.WithClock(now))
	if err != nil {
		return nil, err
	}

	// -------- TOKEN ISSUER --------
	users := b.userProvider
	issuer, err := tokens.NewIssuer(
		jm,
		refresh.NewStore(b.redis),
		tokens.SubjectLookupFunc(func(ctx context.Context, userID string) (tokens.Subject, error) {
			return lookupSubject(ctx, users, userID)
		}),
		tokens.Config{RefreshTTL: cfg.JWT.RefreshTTL},
		tokens.WithLogger(logger),
		tokens.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	// -------- LOCKOUT --------
	failures := limiters.NewFailureTracker(b.redis, limiters.FailureConfig{
		MaxFailures:   cfg.Lockout.MaxFailures,
		LockoutWindow: cfg.Lockout.Window,
	})

	engine := &Engine{
		config:   cfg,
		users:    users,
		issuer:   issuer,
		locker:   lock.New(b.redis, lock.WithLogger(logger), lock.WithClock(now)),
		failures: failures,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger,
		now:      now,
	}
	engine.flows = engine.flowDeps()

	b.built = true

	return engine, nil
}

// lookupSubject resolves the current role for a refresh. A user that no
// longer exists makes the refresh token invalid rather than failing the store.
func lookupSubject(ctx context.Context, users UserProvider, userID string) (tokens.Subject, error) {
	u, err := users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return tokens.Subject{}, fmt.Errorf("%w: %v", tokens.ErrTokenInvalid, err)
		}
		return tokens.Subject{}, err
	}
	return tokens.Subject{ID: u.ID, Role: u.Role}, nil
}
