package goCred

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Security event types delivered to the SecuritySink.
const (
	EventRefreshReplayDetected  = "refresh_replay_detected"
	EventRefreshRevokedReuse    = "refresh_revoked_token_presented"
	EventRefreshFamilyRevoked   = "refresh_family_revoked"
	EventRefreshFamilyCapped    = "refresh_family_size_exceeded"
	EventTokenBlacklisted       = "access_token_blacklisted"
	EventBlacklistedTokenUsed   = "blacklisted_token_presented"
	EventAPIKeyCreated          = "api_key_created"
	EventAPIKeyValidationFailed = "api_key_validation_failed"
	EventAPIKeyRateLimited      = "api_key_rate_limited"
	EventAPIKeyScopeDropped     = "api_key_scope_dropped"
	EventAPIKeyScopeDenied      = "api_key_scope_denied"
	EventAPIKeyIPDenied         = "api_key_ip_denied"
	EventAPIKeyDomainDenied     = "api_key_domain_denied"
	EventAPIKeyStateChanged     = "api_key_state_changed"
	EventPasswordReuseAttempt   = "password_reuse_attempt"
	EventAccountLocked          = "account_locked"
	EventAccountUnlocked        = "account_unlocked"
)

// Risk scores attached to the events above. API key validation failures carry a score per
// failure kind.
const (
	riskRefreshReplay       = 90
	riskRefreshRevokedReuse = 70
	riskFamilyRevoked       = 30
	riskFamilyCapped        = 20
	riskTokenBlacklisted    = 20
	riskBlacklistedTokenUse = 60
	riskAPIKeyCreated       = 0
	riskAPIKeyRateLimited   = 50
	riskScopeDropped        = 10
	riskScopeDenied         = 30
	riskIPDenied            = 50
	riskDomainDenied        = 40
	riskAPIKeyStateChanged  = 10
	riskPasswordReuse       = 30
	riskAccountLocked       = 85
	riskAccountUnlocked     = 10
)

// emitSecurity queues one event. detailsBuilder runs only when a dispatcher is configured so
// disabled auditing costs nothing.
func (e *Engine) emitSecurity(
	ctx context.Context,
	eventType string,
	actorID string,
	ip string,
	riskScore int,
	detailsBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var details string
	if detailsBuilder != nil {
		details = formatDetails(detailsBuilder())
	}

	e.audit.Emit(ctx, SecurityEvent{
		EventType: eventType,
		ActorID:   actorID,
		SourceIP:  sourceIP(ctx, ip),
		Details:   details,
		RiskScore: riskScore,
	})
}

// formatDetails renders m as space separated key=value pairs in key order.
func formatDetails(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// opFailed logs an infrastructure failure and returns the public sentinel that hides it.
func (e *Engine) opFailed(op string, err error, fields ...zap.Field) error {
	if e != nil && e.logger != nil {
		e.logger.Error("credential operation failed", append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...)
	}
	return ErrOperationFailed
}
