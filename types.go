package goCred

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goCred/internal/audit"
	internalmetrics "github.com/MrEthical07/goCred/internal/metrics"
	"github.com/MrEthical07/goCred/store"
	"go.uber.org/zap"
)

// Built-in API key scopes. Callers may register more with Builder.WithScopes.
const (
	ScopeReadOnly  = "read-only"
	ScopeReadWrite = "read-write"
	ScopeAdmin     = "admin"
)

// Subject identifies the principal a session is issued for.
type Subject struct {
	ID   string
	Name string
	Role string
}

// IssuedSession is the token pair returned by IssueSession and Rotate.
type IssuedSession struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
	TokenID          string
}

// Principal is the verified identity carried by an access token.
type Principal struct {
	UserID    string
	Name      string
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// GenerateAPIKeyRequest describes a new API key.
type GenerateAPIKeyRequest struct {
	UserID         string   `validate:"required,max=128"`
	Name           string   `validate:"required"`
	Description    string   `validate:"max=500"`
	Scopes         []string `validate:"omitempty,dive,required"`
	AllowedIPs     []string `validate:"omitempty,dive,required"`
	AllowedDomains []string `validate:"omitempty,dive,required"`
	RateLimitHour  int      `validate:"gte=0"`
	RateLimitDay   int      `validate:"gte=0"`
	Environment    string   `validate:"omitempty,oneof=production staging development test"`
	ExpiresAt      *time.Time
}

// APIKey is the stored API key record. SecretHash never leaves the engine in JSON form.
type APIKey = store.APIKey

// UsageRecord is one request authenticated by an API key.
type UsageRecord = store.UsageRecord

// LockoutState is the per-account failed-authentication state.
type LockoutState = store.LockoutState

// SecurityEvent is one event delivered to a SecuritySink.
type SecurityEvent = internalaudit.Event

// SecuritySink receives security events. Log is called from the dispatcher goroutine, never
// from the request path.
type SecuritySink interface {
	Log(eventType, actorID, sourceIP, details string, riskScore int)
}

// SecuritySinkFunc adapts a function to SecuritySink.
type SecuritySinkFunc func(eventType, actorID, sourceIP, details string, riskScore int)

// Log calls f.
func (f SecuritySinkFunc) Log(eventType, actorID, sourceIP, details string, riskScore int) {
	f(eventType, actorID, sourceIP, details, riskScore)
}

type securitySinkAdapter struct {
	sink SecuritySink
}

func (a securitySinkAdapter) Emit(_ context.Context, e internalaudit.Event) {
	a.sink.Log(e.EventType, e.ActorID, e.SourceIP, e.Details, e.RiskScore)
}

// ChannelSink is a buffered channel-based SecuritySink.
type ChannelSink struct {
	inner *internalaudit.ChannelSink
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{inner: internalaudit.NewChannelSink(buffer)}
}

// Log implements SecuritySink. It blocks while the channel is full.
func (s *ChannelSink) Log(eventType, actorID, sourceIP, details string, riskScore int) {
	s.inner.Emit(context.Background(), newEvent(eventType, actorID, sourceIP, details, riskScore))
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan SecurityEvent {
	return s.inner.Events()
}

// JSONWriterSink writes one JSON event per line to an io.Writer.
type JSONWriterSink struct {
	inner *internalaudit.JSONWriterSink
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{inner: internalaudit.NewJSONWriterSink(w)}
}

// Log implements SecuritySink.
func (s *JSONWriterSink) Log(eventType, actorID, sourceIP, details string, riskScore int) {
	s.inner.Emit(context.Background(), newEvent(eventType, actorID, sourceIP, details, riskScore))
}

// ZapSink writes security events through a zap logger. Events with a risk score at or
// above WarnAt are logged at warn level, the rest at info.
type ZapSink struct {
	Logger *zap.Logger
	WarnAt int
}

// NewZapSink returns a ZapSink that warns at risk 50 and above.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{Logger: logger, WarnAt: 50}
}

// Log implements SecuritySink.
func (s *ZapSink) Log(eventType, actorID, sourceIP, details string, riskScore int) {
	if s == nil || s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("actor_id", actorID),
		zap.String("source_ip", sourceIP),
		zap.String("details", details),
		zap.Int("risk_score", riskScore),
	}
	if riskScore >= s.WarnAt {
		s.Logger.Warn("security event", fields...)
		return
	}
	s.Logger.Info("security event", fields...)
}

func newEvent(eventType, actorID, sourceIP, details string, riskScore int) SecurityEvent {
	return SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		ActorID:   actorID,
		SourceIP:  sourceIP,
		Details:   details,
		RiskScore: riskScore,
	}
}

// MetricID identifies a counter or histogram in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricSessionIssued counts issued sessions.
	MetricSessionIssued = MetricID(internalmetrics.MetricSessionIssued)
	// MetricVerifySuccess counts accepted access tokens.
	MetricVerifySuccess = MetricID(internalmetrics.MetricVerifySuccess)
	// MetricVerifyFailure counts rejected access tokens, blacklisted ones included.
	MetricVerifyFailure = MetricID(internalmetrics.MetricVerifyFailure)
	// MetricVerifyBlacklisted counts access tokens rejected by the blacklist.
	MetricVerifyBlacklisted = MetricID(internalmetrics.MetricVerifyBlacklisted)
	// MetricRotateSuccess counts successful refresh rotations.
	MetricRotateSuccess = MetricID(internalmetrics.MetricRotateSuccess)
	// MetricRotateReplay counts detected refresh replays.
	MetricRotateReplay = MetricID(internalmetrics.MetricRotateReplay)
	// MetricRotateFailure counts every other failed rotation.
	MetricRotateFailure = MetricID(internalmetrics.MetricRotateFailure)
	// MetricFamilyRevoked counts refresh tokens revoked as part of a family.
	MetricFamilyRevoked = MetricID(internalmetrics.MetricFamilyRevoked)
	// MetricBlacklistAdded counts blacklist insertions.
	MetricBlacklistAdded = MetricID(internalmetrics.MetricBlacklistAdded)
	// MetricAPIKeyGenerated counts generated API keys.
	MetricAPIKeyGenerated = MetricID(internalmetrics.MetricAPIKeyGenerated)
	// MetricAPIKeyValidated counts accepted API keys.
	MetricAPIKeyValidated = MetricID(internalmetrics.MetricAPIKeyValidated)
	// MetricAPIKeyRejected counts rejected API keys.
	MetricAPIKeyRejected = MetricID(internalmetrics.MetricAPIKeyRejected)
	// MetricAPIKeyRateLimited counts rate limit breaches.
	MetricAPIKeyRateLimited = MetricID(internalmetrics.MetricAPIKeyRateLimited)
	// MetricLockoutTriggered counts accounts locked.
	MetricLockoutTriggered = MetricID(internalmetrics.MetricLockoutTriggered)
	// MetricUnlock counts explicit unlocks.
	MetricUnlock = MetricID(internalmetrics.MetricUnlock)
	// MetricCleanupDeleted counts rows removed by the cleanup sweep.
	MetricCleanupDeleted = MetricID(internalmetrics.MetricCleanupDeleted)
	// MetricVerifyLatency is the verify latency histogram.
	MetricVerifyLatency = MetricID(internalmetrics.MetricVerifyLatency)
)

// Metrics holds atomic counters and the optional latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a Metrics instance. When Enabled is false every operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
