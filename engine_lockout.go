package goCred

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// RecordFailure counts a failed authentication for userID. It reports true once the
// failure count reaches Config.Lockout.Threshold and the account is locked.
//
// Failures against an already locked account keep counting but do not extend the lock.
// Only the failure that lands exactly on the threshold locks, so concurrent failures
// crossing it produce a single lock and a single account_locked event. A count already past
// the threshold locks again only once an earlier lock has lapsed.
func (e *Engine) RecordFailure(ctx context.Context, userID, ip string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if !e.config.Lockout.Enabled {
		return false, nil
	}
	if strings.TrimSpace(userID) == "" {
		return false, ErrUserIDRequired
	}
	ip = sourceIP(ctx, ip)
	now := e.now()

	state, err := e.store.IncrementFailures(ctx, userID, ip, now, e.config.Lockout.Window)
	if err != nil {
		return false, e.opFailed("record_failure", err, zap.String("user_id", userID))
	}
	if state.Locked(now) {
		return true, nil
	}
	threshold := e.config.Lockout.Threshold
	switch {
	case state.Failures < threshold:
		return false, nil
	case state.Failures > threshold && state.LockedUntil == nil:
		// Another failure reached the threshold and is applying the lock.
		return true, nil
	}

	until := now.Add(e.config.Lockout.Duration)
	if err := e.store.SetLockedUntil(ctx, userID, until, "too_many_failures"); err != nil {
		return false, e.opFailed("record_failure", err, zap.String("user_id", userID))
	}

	e.metricInc(MetricLockoutTriggered)
	e.logger.Warn("account locked",
		zap.String("user_id", userID),
		zap.Int("failures", state.Failures),
		zap.Time("locked_until", until),
	)
	e.emitSecurity(ctx, EventAccountLocked, userID, ip, riskAccountLocked, func() map[string]string {
		return map[string]string{
			"failures":     itoa(state.Failures),
			"locked_until": until.UTC().Format("2006-01-02T15:04:05Z"),
		}
	})
	return true, nil
}

// RecordSuccess clears the failure counter after a successful authentication. It does not
// lift an active lock; callers check IsLocked before authenticating.
func (e *Engine) RecordSuccess(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.Lockout.Enabled {
		return nil
	}
	state, err := e.store.GetLockout(ctx, userID)
	if err != nil {
		return e.opFailed("record_success", err, zap.String("user_id", userID))
	}
	if state.Locked(e.now()) || state.Failures == 0 {
		return nil
	}
	if err := e.store.ClearLockout(ctx, userID); err != nil {
		return e.opFailed("record_success", err, zap.String("user_id", userID))
	}
	return nil
}

// IsLocked reports whether userID is locked at the current time.
func (e *Engine) IsLocked(ctx context.Context, userID string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	state, err := e.store.GetLockout(ctx, userID)
	if err != nil {
		return false, e.opFailed("is_locked", err, zap.String("user_id", userID))
	}
	return state.Locked(e.now()), nil
}

// EnsureUnlocked returns ErrAccountLocked when userID is locked at the current time.
func (e *Engine) EnsureUnlocked(ctx context.Context, userID string) error {
	locked, err := e.IsLocked(ctx, userID)
	if err != nil {
		return err
	}
	if locked {
		return ErrAccountLocked
	}
	return nil
}

// LockoutState returns the stored failure state for userID.
func (e *Engine) LockoutState(ctx context.Context, userID string) (*LockoutState, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	state, err := e.store.GetLockout(ctx, userID)
	if err != nil {
		return nil, e.opFailed("lockout_state", err, zap.String("user_id", userID))
	}
	return state, nil
}

// Unlock lifts a lock and resets the failure counter on behalf of actor.
func (e *Engine) Unlock(ctx context.Context, userID, actor string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	if err := e.store.ClearLockout(ctx, userID); err != nil {
		return e.opFailed("unlock", err, zap.String("user_id", userID))
	}
	e.metricInc(MetricUnlock)
	e.emitSecurity(ctx, EventAccountUnlocked, userID, "", riskAccountUnlocked, func() map[string]string {
		return map[string]string{"actor": actor}
	})
	return nil
}
