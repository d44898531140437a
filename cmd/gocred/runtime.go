package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/store/postgres"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

func newLogger(s settings) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if s.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

func engineConfig(s settings) goCred.Config {
	cfg := goCred.DefaultConfig()
	cfg.Token.SigningKey = []byte(s.SigningKey)
	cfg.Token.Issuer = s.Issuer
	cfg.Token.AccessTTL = s.AccessTTL
	cfg.Refresh.TTL = s.RefreshTTL
	cfg.APIKey.Tag = s.KeyTag
	cfg.Crypto.MasterKey = []byte(s.MasterKey)
	cfg.Cleanup.Interval = s.CleanupInterval
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// runtime owns the engine and the backend connections it was built on.
type runtime struct {
	engine  *goCred.Engine
	logger  *zap.Logger
	closers []func()
}

func (r *runtime) Close() {
	r.engine.Close()
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	_ = r.logger.Sync()
}

// waitReady retries ping with exponential backoff so the service can start alongside its
// backing store.
func waitReady(ctx context.Context, logger *zap.Logger, attempts uint64, name string, ping func(context.Context) error) error {
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			logger.Warn("backend not ready", zap.String("backend", name), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
}

func newRuntime(ctx context.Context, s settings) (*runtime, error) {
	logger, err := newLogger(s)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: logger}

	b := goCred.New().
		WithConfig(engineConfig(s)).
		WithLogger(logger.Named("gocred")).
		WithSecuritySink(goCred.NewZapSink(logger.Named("security"))).
		WithScopes(s.Scopes...)

	switch {
	case s.Postgres.DSN != "":
		pool, err := postgres.NewPool(ctx, s.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		if err := waitReady(ctx, logger, s.StartupRetries, "postgres", pool.Ping); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		b = b.WithStore(postgres.New(pool))
	case s.Redis.Addr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
		if err := waitReady(ctx, logger, s.StartupRetries, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		b = b.WithRedis(rdb)
	default:
		return nil, errors.New("no credential store configured")
	}

	engine, err := b.Build()
	if err != nil {
		for _, c := range rt.closers {
			c()
		}
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.engine = engine
	return rt, nil
}
