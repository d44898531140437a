package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sweepers is the subset of store.Store the scheduler deletes through.
type Sweepers interface {
	PurgeRefreshTokens(ctx context.Context, now, revokedBefore time.Time, limit int) (int, error)
	PurgeBlacklist(ctx context.Context, now time.Time, limit int) (int, error)
	PurgeUsage(ctx context.Context, before time.Time, limit int) (int, error)
	PurgeLockouts(ctx context.Context, now, staleBefore time.Time, limit int) (int, error)
}

// Config controls sweep cadence, pacing and retention.
type Config struct {
	// Interval between scheduled runs.
	Interval time.Duration
	// BatchSize is the row limit passed to every purge call.
	BatchSize int
	// BatchesPerSecond paces purge calls so a large backlog does not saturate the store.
	BatchesPerSecond float64

	RefreshRevokedRetention time.Duration
	UsageRetention          time.Duration
	LockoutRetention        time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
	// OnDeleted, when set, receives the row count of every successful batch.
	OnDeleted func(n int)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("cleanup: interval must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("cleanup: batch size must be > 0")
	}
	if c.BatchesPerSecond <= 0 {
		return errors.New("cleanup: batches per second must be > 0")
	}
	if c.RefreshRevokedRetention < 0 || c.UsageRetention < 0 || c.LockoutRetention < 0 {
		return errors.New("cleanup: retention must not be negative")
	}
	return nil
}

// Report counts what one run deleted.
type Report struct {
	RefreshTokens int
	Blacklist     int
	Usage         int
	Lockouts      int
	Batches       int
	Duration      time.Duration
}

// Total returns the number of deleted rows across all kinds.
func (r Report) Total() int {
	return r.RefreshTokens + r.Blacklist + r.Usage + r.Lockouts
}

// Scheduler periodically deletes expired credentials and stale records.
//
// Runs never overlap: a tick that fires while a run is still in progress is skipped.
type Scheduler struct {
	cfg     Config
	store   Sweepers
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	last    Report
}

// New validates cfg and returns a stopped scheduler.
func New(cfg Config, sweepers Sweepers, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sweepers == nil {
		return nil, errors.New("cleanup: store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   sweepers,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1),
	}, nil
}

// Start schedules a run every Interval. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	// Stop cancels runCtx so an in-flight sweep ends at its next batch.
	runCtx, cancel := context.WithCancel(context.Background())

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		_, err := s.RunOnce(runCtx)
		switch {
		case err == nil:
		case runCtx.Err() != nil:
			s.logger.Info("cleanup run cancelled", zap.Error(err))
		default:
			s.logger.Error("cleanup run failed", zap.Error(err))
		}
	}))
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.logger.Info("cleanup scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop stops scheduling, cancels an in-flight run and waits for it to return or for ctx,
// whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastReport returns the report of the most recent completed run.
func (s *Scheduler) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce sweeps every record kind until a batch comes back short. It stops between
// batches when ctx is done. A failing kind is logged and the remaining kinds still run.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	now := s.cfg.Now()
	limit := s.cfg.BatchSize

	var report Report
	var errs []error

	kinds := []struct {
		name  string
		count *int
		purge func(context.Context) (int, error)
	}{
		{"refresh_tokens", &report.RefreshTokens, func(ctx context.Context) (int, error) {
			return s.store.PurgeRefreshTokens(ctx, now, now.Add(-s.cfg.RefreshRevokedRetention), limit)
		}},
		{"blacklist", &report.Blacklist, func(ctx context.Context) (int, error) {
			return s.store.PurgeBlacklist(ctx, now, limit)
		}},
		{"api_key_usage", &report.Usage, func(ctx context.Context) (int, error) {
			return s.store.PurgeUsage(ctx, now.Add(-s.cfg.UsageRetention), limit)
		}},
		{"lockouts", &report.Lockouts, func(ctx context.Context) (int, error) {
			return s.store.PurgeLockouts(ctx, now, now.Add(-s.cfg.LockoutRetention), limit)
		}},
	}

	for _, k := range kinds {
		for {
			if err := s.limiter.Wait(ctx); err != nil {
				report.Duration = time.Since(start)
				return report, err
			}
			n, err := k.purge(ctx)
			report.Batches++
			if err != nil {
				s.logger.Error("cleanup batch failed", zap.String("kind", k.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("cleanup %s: %w", k.name, err))
				break
			}
			*k.count += n
			if n > 0 && s.cfg.OnDeleted != nil {
				s.cfg.OnDeleted(n)
			}
			if n < limit {
				break
			}
		}
	}

	report.Duration = time.Since(start)
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("cleanup run finished",
		zap.Int("refresh_tokens", report.RefreshTokens),
		zap.Int("blacklist", report.Blacklist),
		zap.Int("usage", report.Usage),
		zap.Int("lockouts", report.Lockouts),
		zap.Duration("duration", report.Duration),
	)
	return report, errors.Join(errs...)
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
