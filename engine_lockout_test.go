package goCred

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockoutAtThreshold(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.Lockout.Threshold = 3 })
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		locked, err := env.engine.RecordFailure(ctx, alice.ID, "198.51.100.4")
		if err != nil || locked {
			t.Fatalf("failure %d should not lock, locked=%v err=%v", i, locked, err)
		}
	}
	if err := env.engine.EnsureUnlocked(ctx, alice.ID); err != nil {
		t.Fatalf("expected unlocked account, got %v", err)
	}

	locked, err := env.engine.RecordFailure(ctx, alice.ID, "198.51.100.4")
	if err != nil || !locked {
		t.Fatalf("third failure should lock, locked=%v err=%v", locked, err)
	}
	if err := env.engine.EnsureUnlocked(ctx, alice.ID); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	ev := waitEvent(t, env.sink, EventAccountLocked)
	if ev.RiskScore != 85 || ev.SourceIP != "198.51.100.4" || ev.ActorID != alice.ID {
		t.Fatalf("unexpected lock event: %+v", ev)
	}
	if env.logs.FilterMessage("account locked").Len() != 1 {
		t.Fatalf("expected one lock warning")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLockoutTriggered]; got != 1 {
		t.Fatalf("expected lockout counter 1, got %d", got)
	}

	state, err := env.engine.LockoutState(ctx, alice.ID)
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if state.Failures != 3 || state.LockedUntil == nil || state.Reason != "too_many_failures" {
		t.Fatalf("unexpected state: %+v", state)
	}

	// A success does not lift an active lock.
	if err := env.engine.RecordSuccess(ctx, alice.ID); err != nil {
		t.Fatalf("record success failed: %v", err)
	}
	if locked, _ := env.engine.IsLocked(ctx, alice.ID); !locked {
		t.Fatalf("success must not unlock")
	}

	env.clock.Advance(31 * time.Minute)
	if locked, _ := env.engine.IsLocked(ctx, alice.ID); locked {
		t.Fatalf("lock should expire after its duration")
	}
}

func TestRecordSuccessResetsFailures(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.Lockout.Threshold = 3 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.RecordFailure(ctx, alice.ID, ""); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if err := env.engine.RecordSuccess(ctx, alice.ID); err != nil {
		t.Fatalf("record success failed: %v", err)
	}
	state, err := env.engine.LockoutState(ctx, alice.ID)
	if err != nil || state.Failures != 0 {
		t.Fatalf("expected cleared counter, state=%+v err=%v", state, err)
	}

	for i := 0; i < 2; i++ {
		if locked, err := env.engine.RecordFailure(ctx, alice.ID, ""); err != nil || locked {
			t.Fatalf("counter should restart after success, locked=%v err=%v", locked, err)
		}
	}
}

func TestFailureWindowRestartsCounter(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.Lockout.Threshold = 3 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.RecordFailure(ctx, alice.ID, ""); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	env.clock.Advance(16 * time.Minute)
	locked, err := env.engine.RecordFailure(ctx, alice.ID, "")
	if err != nil || locked {
		t.Fatalf("stale failures must not count, locked=%v err=%v", locked, err)
	}
	state, _ := env.engine.LockoutState(ctx, alice.ID)
	if state.Failures != 1 {
		t.Fatalf("expected restarted counter, got %d", state.Failures)
	}
}

func TestUnlock(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.Lockout.Threshold = 1 })
	ctx := context.Background()

	if locked, err := env.engine.RecordFailure(ctx, alice.ID, ""); err != nil || !locked {
		t.Fatalf("expected lock, locked=%v err=%v", locked, err)
	}
	if err := env.engine.Unlock(ctx, alice.ID, "admin-1"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := env.engine.EnsureUnlocked(ctx, alice.ID); err != nil {
		t.Fatalf("expected unlocked account, got %v", err)
	}
	ev := waitEvent(t, env.sink, EventAccountUnlocked)
	if ev.Details != "actor=admin-1" {
		t.Fatalf("unexpected unlock details %q", ev.Details)
	}
	if err := env.engine.Unlock(ctx, "", "admin-1"); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestLockoutDisabled(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.Lockout.Enabled = false })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if locked, err := env.engine.RecordFailure(ctx, alice.ID, ""); err != nil || locked {
			t.Fatalf("disabled lockout must never lock, locked=%v err=%v", locked, err)
		}
	}
	if _, err := env.engine.RecordFailure(ctx, "", ""); err != nil {
		t.Fatalf("disabled lockout ignores input, got %v", err)
	}
}

func TestRecordFailureRequiresUser(t *testing.T) {
	env := newTestEngine(t, nil)
	if _, err := env.engine.RecordFailure(context.Background(), " ", ""); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestConcurrentFailuresLockOnce(t *testing.T) {
	env := newTestEngine(t, func(c *Config) { c.Lockout.Threshold = 3 })
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := env.engine.RecordFailure(ctx, alice.ID, "198.51.100.4"); err != nil {
				t.Errorf("record failure: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := env.engine.MetricsSnapshot().Counters[MetricLockoutTriggered]; got != 1 {
		t.Fatalf("expected a single lock, got %d", got)
	}
	if env.logs.FilterMessage("account locked").Len() != 1 {
		t.Fatalf("expected one lock warning")
	}
	if err := env.engine.EnsureUnlocked(ctx, alice.ID); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestFailuresPastThresholdRelockAfterLapse(t *testing.T) {
	env := newTestEngine(t, func(c *Config) {
		c.Lockout.Threshold = 2
		c.Lockout.Duration = time.Minute
		c.Lockout.Window = time.Hour
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.RecordFailure(ctx, alice.ID, ""); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	env.clock.Advance(2 * time.Minute)
	if locked, _ := env.engine.IsLocked(ctx, alice.ID); locked {
		t.Fatalf("first lock should have lapsed")
	}

	locked, err := env.engine.RecordFailure(ctx, alice.ID, "")
	if err != nil || !locked {
		t.Fatalf("failure past the threshold after a lapsed lock should relock, locked=%v err=%v", locked, err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLockoutTriggered]; got != 2 {
		t.Fatalf("expected two locks, got %d", got)
	}
}
