package goCred

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goCred/cleanup"
	"github.com/MrEthical07/goCred/cryptox"
	internalaudit "github.com/MrEthical07/goCred/internal/audit"
	"github.com/MrEthical07/goCred/internal/flows"
	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/password"
	"github.com/MrEthical07/goCred/refresh"
	"github.com/MrEthical07/goCred/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// purposeAccessToken is the key derivation label for the access token wrapper.
const purposeAccessToken = "gocred/access-token/v1"

// Engine defines a public type used by goCred APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	store        store.Store
	crypto       *cryptox.Provider
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	policy       *password.Policy
	flows        flows.Service
	scopes       map[string]struct{}
	validate     *validator.Validate
	keyCache     *expirable.LRU[string, store.APIKey]
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *zap.Logger
	now          func() time.Time

	// lastKeyStamp is the UnixNano of the newest API key prefix handed out by this engine.
	lastKeyStamp atomic.Int64
}

func (e *Engine) buildFlows() flows.Service {
	var unwrap func(string) (string, error)
	if e.config.Token.EncryptAccessTokens {
		unwrap = func(s string) (string, error) {
			b, err := e.crypto.Decrypt(purposeAccessToken, s)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
	}

	warn := e.logger.Sugar().Warnw

	return flows.New(flows.Deps{
		Rotate: flows.RotateDeps{
			Now:       e.now,
			HashToken: refresh.Hash,
			NewToken:  refresh.New,
			NewID:     uuid.NewString,
			IssueAccess: func(subject, name, role string) (flows.IssuedAccess, error) {
				return e.issueAccess(subject, name, role)
			},
			RefreshTTL:    e.config.Refresh.TTL,
			MaxFamilySize: e.config.Refresh.MaxFamilySize,
			Warn:          warn,
			Store:         e.store,
		},
		Verify: flows.VerifyDeps{
			Unwrap:      unwrap,
			ParseAccess: e.jwtManager.ParseAccess,
			IsBlacklisted: func(ctx context.Context, jti string) (bool, error) {
				return e.store.IsBlacklisted(ctx, cryptox.Hash(jti), e.now())
			},
		},
		APIKey: flows.APIKeyDeps{
			Now:          e.now,
			Lookup:       e.lookupAPIKey,
			VerifySecret: e.crypto.VerifySecret,
			DummyVerify:  e.crypto.DummyVerify,
			Touch:        e.store.TouchAPIKey,
			Warn:         warn,
		},
	})
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

// Close flushes queued security events and stops the dispatcher. The store is owned by
// the caller and is not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Ping checks the credential store.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.store.Ping(ctx)
}

// AuditDropped returns how many security events were dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// NewCleanupScheduler returns a sweep scheduler over the engine's store configured from
// Config.Cleanup. Deleted row counts feed MetricCleanupDeleted.
func (e *Engine) NewCleanupScheduler() (*cleanup.Scheduler, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return cleanup.New(cleanup.Config{
		Interval:                e.config.Cleanup.Interval,
		BatchSize:               e.config.Cleanup.BatchSize,
		BatchesPerSecond:        e.config.Cleanup.BatchesPerSecond,
		RefreshRevokedRetention: e.config.Cleanup.RefreshRevokedRetention,
		UsageRetention:          e.config.Cleanup.UsageRetention,
		LockoutRetention:        e.config.Cleanup.LockoutRetention,
		Now:                     e.now,
		OnDeleted: func(n int) {
			e.metricAdd(MetricCleanupDeleted, n)
		},
	}, e.store, e.logger.Named("cleanup"))
}

// storeErr maps a store sentinel to a public error or logs and hides it.
func (e *Engine) storeErr(op string, err error, notFound error) error {
	if notFound != nil && errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return e.opFailed(op, err)
}
