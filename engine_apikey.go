package goCred

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/apikey"
	"github.com/MrEthical07/goCred/internal/flows"
	"github.com/MrEthical07/goCred/internal/ipmatch"
	"github.com/MrEthical07/goCred/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	apiKeyCreateAttempts = 3
	rateWindowHour       = time.Hour
	rateWindowDay        = 24 * time.Hour
)

// GenerateAPIKey creates a key for req.UserID and returns the full key string exactly once.
// Only the prefix and a bcrypt hash of the secret are stored.
//
// Scopes not present in the registry are dropped with a warning, never rejected. When no
// scope survives, Config.APIKey.DefaultScopes is applied.
func (e *Engine) GenerateAPIKey(ctx context.Context, req GenerateAPIKeyRequest) (string, *APIKey, error) {
	if err := e.ready(); err != nil {
		return "", nil, err
	}
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAPIKeyRequestInvalid, err)
	}
	if len(req.Name) > e.config.APIKey.MaxNameLength {
		return "", nil, fmt.Errorf("%w: name too long", ErrAPIKeyRequestInvalid)
	}
	now := e.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return "", nil, fmt.Errorf("%w: expiry in the past", ErrAPIKeyRequestInvalid)
	}

	scopes := e.filterScopes(ctx, req.UserID, req.Scopes)

	rec := &store.APIKey{
		Name:           req.Name,
		Description:    req.Description,
		UserID:         req.UserID,
		Scopes:         scopes,
		AllowedIPs:     trimAll(req.AllowedIPs),
		AllowedDomains: trimAll(req.AllowedDomains),
		RateLimitHour:  req.RateLimitHour,
		RateLimitDay:   req.RateLimitDay,
		Environment:    req.Environment,
		ExpiresAt:      req.ExpiresAt,
		Active:         true,
	}
	if rec.RateLimitHour == 0 {
		rec.RateLimitHour = e.config.APIKey.DefaultRateLimitHour
	}
	if rec.RateLimitDay == 0 {
		rec.RateLimitDay = e.config.APIKey.DefaultRateLimitDay
	}
	if rec.Environment == "" {
		rec.Environment = e.config.APIKey.DefaultEnvironment
	}

	var full string
	for attempt := 1; ; attempt++ {
		key, prefix, secret, err := apikey.Generate(e.config.APIKey.Tag, e.nextKeyStamp(e.now()))
		if err != nil {
			return "", nil, e.opFailed("generate_api_key", err)
		}
		hash, err := e.crypto.HashSecret(secret)
		if err != nil {
			return "", nil, e.opFailed("generate_api_key", err)
		}
		rec.ID = uuid.NewString()
		rec.Prefix = prefix
		rec.SecretHash = hash
		rec.CreatedAt = e.now()

		err = e.store.CreateAPIKey(ctx, rec)
		if err == nil {
			full = key
			break
		}
		if errors.Is(err, store.ErrConflict) && attempt < apiKeyCreateAttempts {
			continue
		}
		return "", nil, e.opFailed("generate_api_key", err, zap.String("user_id", req.UserID))
	}

	e.metricInc(MetricAPIKeyGenerated)
	e.emitSecurity(ctx, EventAPIKeyCreated, rec.UserID, "", riskAPIKeyCreated, func() map[string]string {
		return map[string]string{
			"key_id": rec.ID,
			"prefix": rec.Prefix,
			"scopes": strings.Join(rec.Scopes, ","),
		}
	})

	out := *rec
	return full, &out, nil
}

// nextKeyStamp returns now, or one nanosecond past the previous stamp when the clock has not
// moved, so prefixes stay distinct on a coarse or frozen clock.
func (e *Engine) nextKeyStamp(now time.Time) time.Time {
	for {
		last := e.lastKeyStamp.Load()
		next := now.UnixNano()
		if next <= last {
			next = last + 1
		}
		if e.lastKeyStamp.CompareAndSwap(last, next) {
			return time.Unix(0, next)
		}
	}
}

func (e *Engine) filterScopes(ctx context.Context, userID string, requested []string) []string {
	seen := make(map[string]struct{}, len(requested))
	var kept, dropped []string
	for _, s := range requested {
		s = strings.TrimSpace(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := e.scopes[s]; ok {
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	if len(dropped) > 0 {
		e.logger.Warn("dropping unknown api key scopes", zap.String("user_id", userID), zap.Strings("scopes", dropped))
		e.emitSecurity(ctx, EventAPIKeyScopeDropped, userID, "", riskScopeDropped, func() map[string]string {
			return map[string]string{"scopes": strings.Join(dropped, ",")}
		})
	}
	if len(kept) == 0 {
		return append([]string(nil), e.config.APIKey.DefaultScopes...)
	}
	return kept
}

// ValidateAPIKey checks a presented key and returns its record. Every failure emits a
// security event whose risk grows with how suspicious the failure is.
func (e *Engine) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	res := e.flows.ValidateAPIKey(ctx, key)
	if res.Failure == flows.APIKeyFailureNone {
		e.metricInc(MetricAPIKeyValidated)
		return res.Key, nil
	}
	if res.Failure == flows.APIKeyFailureBackend {
		return nil, e.opFailed("validate_api_key", res.Err, zap.String("prefix", res.Prefix))
	}

	e.metricInc(MetricAPIKeyRejected)
	actor := ""
	if res.Key != nil {
		actor = res.Key.UserID
	}
	e.emitSecurity(ctx, EventAPIKeyValidationFailed, actor, sourceIP(ctx, ""), res.Failure.RiskScore(), func() map[string]string {
		return map[string]string{
			"reason": res.Failure.String(),
			"prefix": res.Prefix,
		}
	})

	switch res.Failure {
	case flows.APIKeyFailureRevoked:
		return nil, ErrAPIKeyRevoked
	case flows.APIKeyFailureInactive:
		return nil, ErrAPIKeyInactive
	case flows.APIKeyFailureExpired:
		return nil, ErrAPIKeyExpired
	default:
		return nil, ErrAPIKeyInvalid
	}
}

// lookupAPIKey returns a private copy of the record for prefix, from the cache when enabled.
func (e *Engine) lookupAPIKey(ctx context.Context, prefix string) (*store.APIKey, error) {
	if e.keyCache != nil {
		if rec, ok := e.keyCache.Get(prefix); ok {
			return &rec, nil
		}
	}
	rec, err := e.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if e.keyCache != nil {
		e.keyCache.Add(prefix, *rec)
	}
	return rec, nil
}

func (e *Engine) invalidateAPIKey(prefix string) {
	if e.keyCache != nil {
		e.keyCache.Remove(prefix)
	}
}

// RateLimitDecision is the outcome of a rate limit check.
type RateLimitDecision struct {
	Allowed bool
	// Window is "hour" or "day" when the key is limited.
	Window string
	// RetryAfter is the time until the oldest usage in the breached window ages out.
	RetryAfter time.Duration
}

// CheckRateLimit reports whether the key may serve another request. Usage recorded in the
// last hour and the last day must both be strictly below the key's limits. A limit of zero
// or less is unlimited.
//
// Counting and recording are separate steps, so concurrent requests can overshoot a limit
// by the number of requests in flight.
func (e *Engine) CheckRateLimit(ctx context.Context, keyID, callerIP string) (bool, error) {
	d, err := e.RateLimit(ctx, keyID, callerIP)
	return d.Allowed, err
}

// RateLimit is CheckRateLimit with the breached window and retry delay.
func (e *Engine) RateLimit(ctx context.Context, keyID, callerIP string) (RateLimitDecision, error) {
	if err := e.ready(); err != nil {
		return RateLimitDecision{}, err
	}
	rec, err := e.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return RateLimitDecision{}, e.storeErr("check_rate_limit", err, ErrAPIKeyNotFound)
	}

	now := e.now()
	hourly, err := e.store.CountUsage(ctx, keyID, now.Add(-rateWindowHour), now)
	if err != nil {
		return RateLimitDecision{}, e.opFailed("check_rate_limit", err, zap.String("key_id", keyID))
	}
	daily, err := e.store.CountUsage(ctx, keyID, now.Add(-rateWindowDay), now)
	if err != nil {
		return RateLimitDecision{}, e.opFailed("check_rate_limit", err, zap.String("key_id", keyID))
	}

	var window string
	var span time.Duration
	switch {
	case rec.RateLimitHour > 0 && hourly >= int64(rec.RateLimitHour):
		window, span = "hour", rateWindowHour
	case rec.RateLimitDay > 0 && daily >= int64(rec.RateLimitDay):
		window, span = "day", rateWindowDay
	}
	if window == "" {
		return RateLimitDecision{Allowed: true}, nil
	}

	retry := span
	oldest, err := e.store.OldestUsage(ctx, keyID, now.Add(-span), now)
	switch {
	case err == nil:
		retry = oldest.Add(span).Sub(now)
	case !errors.Is(err, store.ErrNotFound):
		return RateLimitDecision{}, e.opFailed("check_rate_limit", err, zap.String("key_id", keyID))
	}
	if retry < time.Second {
		retry = time.Second
	}

	e.metricInc(MetricAPIKeyRateLimited)
	e.logger.Warn("api key rate limited",
		zap.String("key_id", keyID),
		zap.String("window", window),
		zap.Duration("retry_after", retry),
	)
	e.emitSecurity(ctx, EventAPIKeyRateLimited, rec.UserID, callerIP, riskAPIKeyRateLimited, func() map[string]string {
		return map[string]string{
			"key_id":  keyID,
			"window":  window,
			"hourly":  itoa(int(hourly)),
			"daily":   itoa(int(daily)),
			"limit_h": itoa(rec.RateLimitHour),
			"limit_d": itoa(rec.RateLimitDay),
		}
	})
	return RateLimitDecision{Window: window, RetryAfter: retry}, nil
}

// RecordAPIKeyUsage appends a usage record. ID and Timestamp are filled when empty.
func (e *Engine) RecordAPIKeyUsage(ctx context.Context, rec UsageRecord) error {
	if err := e.ready(); err != nil {
		return err
	}
	if rec.KeyID == "" {
		return ErrAPIKeyNotFound
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.now()
	}
	if err := e.store.RecordUsage(ctx, &rec); err != nil {
		return e.opFailed("record_api_key_usage", err, zap.String("key_id", rec.KeyID))
	}
	return nil
}

// ValidateScope reports whether key carries requiredScope.
func (e *Engine) ValidateScope(ctx context.Context, key *APIKey, requiredScope string) bool {
	if key == nil {
		return false
	}
	for _, s := range key.Scopes {
		if s == requiredScope {
			return true
		}
	}
	e.emitSecurity(ctx, EventAPIKeyScopeDenied, key.UserID, sourceIP(ctx, ""), riskScopeDenied, func() map[string]string {
		return map[string]string{"key_id": key.ID, "required": requiredScope}
	})
	return false
}

// ValidateIPAddress reports whether callerIP is permitted by the key's allow-list. An empty
// list permits every caller. Entries may be exact addresses, CIDR prefixes or glob patterns.
func (e *Engine) ValidateIPAddress(ctx context.Context, key *APIKey, callerIP string) bool {
	if key == nil {
		return false
	}
	if ipmatch.IPAllowed(key.AllowedIPs, callerIP) {
		return true
	}
	e.emitSecurity(ctx, EventAPIKeyIPDenied, key.UserID, callerIP, riskIPDenied, func() map[string]string {
		return map[string]string{"key_id": key.ID}
	})
	return false
}

// ValidateDomain reports whether origin is permitted by the key's allowed domains. An empty
// list permits every origin.
func (e *Engine) ValidateDomain(ctx context.Context, key *APIKey, origin string) bool {
	if key == nil {
		return false
	}
	if ipmatch.DomainAllowed(key.AllowedDomains, origin) {
		return true
	}
	e.emitSecurity(ctx, EventAPIKeyDomainDenied, key.UserID, sourceIP(ctx, ""), riskDomainDenied, func() map[string]string {
		return map[string]string{"key_id": key.ID, "origin": origin}
	})
	return false
}

// RevokeAPIKey permanently revokes a key. The record is kept.
func (e *Engine) RevokeAPIKey(ctx context.Context, keyID, actor, reason string) error {
	return e.changeAPIKeyState(ctx, keyID, "revoked", store.APIKeyStateChange{
		Revocation: &store.Revocation{Reason: reason, Actor: actor, At: e.now()},
	})
}

// ActivateAPIKey re-enables a deactivated key. Revoked keys stay revoked.
func (e *Engine) ActivateAPIKey(ctx context.Context, keyID string) error {
	active := true
	return e.changeAPIKeyState(ctx, keyID, "activated", store.APIKeyStateChange{Active: &active})
}

// DeactivateAPIKey disables a key until it is activated again.
func (e *Engine) DeactivateAPIKey(ctx context.Context, keyID string) error {
	active := false
	return e.changeAPIKeyState(ctx, keyID, "deactivated", store.APIKeyStateChange{Active: &active})
}

func (e *Engine) changeAPIKeyState(ctx context.Context, keyID, change string, sc store.APIKeyStateChange) error {
	if err := e.ready(); err != nil {
		return err
	}
	rec, err := e.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return e.storeErr("api_key_"+change, err, ErrAPIKeyNotFound)
	}
	if err := e.store.UpdateAPIKeyState(ctx, keyID, sc); err != nil {
		return e.storeErr("api_key_"+change, err, ErrAPIKeyNotFound)
	}
	e.invalidateAPIKey(rec.Prefix)

	actor := rec.UserID
	if sc.Revocation != nil && sc.Revocation.Actor != "" {
		actor = sc.Revocation.Actor
	}
	e.emitSecurity(ctx, EventAPIKeyStateChanged, actor, "", riskAPIKeyStateChanged, func() map[string]string {
		return map[string]string{"key_id": keyID, "prefix": rec.Prefix, "change": change}
	})
	return nil
}

// ListAPIKeys returns the keys owned by userID.
func (e *Engine) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	keys, err := e.store.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, e.opFailed("list_api_keys", err, zap.String("user_id", userID))
	}
	return keys, nil
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
