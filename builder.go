package goCred

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/cryptox"
	internalaudit "github.com/MrEthical07/goCred/internal/audit"
	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/password"
	"github.com/MrEthical07/goCred/store"
	"github.com/MrEthical07/goCred/store/redisstore"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder defines a public type used by goCred APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	logger *zap.Logger
	sink   SecuritySink
	scopes []string
	clock  func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects the Redis-backed credential store. It is ignored when WithStore is
// also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore supplies a custom credential store, such as store/postgres.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the operational logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSecuritySink sets the receiver of security events.
func (b *Builder) WithSecuritySink(sink SecuritySink) *Builder {
	b.sink = sink
	return b
}

// WithScopes registers API key scopes in addition to the built-in ones.
func (b *Builder) WithScopes(scopes ...string) *Builder {
	b.scopes = append(b.scopes, scopes...)
	return b
}

// WithClock overrides time.Now for every time-dependent decision of the engine.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the verify latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine. A Builder can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- STORE --------
	credStore := b.store
	if credStore == nil {
		if b.redis == nil {
			return nil, errors.New("credential store or redis client required")
		}
		credStore = redisstore.New(b.redis, cfg.Store.RedisPrefix)
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- SCOPE REGISTRY --------
	scopes := map[string]struct{}{
		ScopeReadOnly:  {},
		ScopeReadWrite: {},
		ScopeAdmin:     {},
	}
	for _, s := range append(append([]string(nil), b.scopes...), cfg.APIKey.DefaultScopes...) {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errors.New("scope names must not be empty")
		}
		scopes[s] = struct{}{}
	}

	// -------- CRYPTO --------
	cp, err := cryptox.New(cryptox.Config{
		MasterKey:  cloneBytes(cfg.Crypto.MasterKey),
		Salt:       cloneBytes(cfg.Crypto.Salt),
		BcryptCost: cfg.Crypto.BcryptCost,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.SigningKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		KeyID:         cfg.Token.KeyID,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	policy, err := password.NewPolicy(password.PolicyConfig{
		MinLength:      cfg.Password.MinLength,
		MaxLength:      cfg.Password.MaxLength,
		RequireUpper:   cfg.Password.RequireUpper,
		RequireLower:   cfg.Password.RequireLower,
		RequireDigit:   cfg.Password.RequireDigit,
		RequireSpecial: cfg.Password.RequireSpecial,
	}, password.CommonPasswords())
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		store:        credStore,
		crypto:       cp,
		jwtManager:   jm,
		passwordHash: ph,
		policy:       policy,
		scopes:       scopes,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger,
		now:          now,
		metrics:      NewMetrics(cfg.Metrics),
	}

	if cfg.Cache.APIKeyLRUEnabled {
		engine.keyCache = expirable.NewLRU[string, store.APIKey](cfg.Cache.Size, nil, cfg.Cache.TTL)
	}

	var sink internalaudit.Sink = internalaudit.NoOpSink{}
	if b.sink != nil {
		sink = securitySinkAdapter{sink: b.sink}
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	engine.flows = engine.buildFlows()

	b.built = true

	return engine, nil
}
