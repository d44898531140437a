package goCred

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/internal/flows"
	"github.com/MrEthical07/goCred/refresh"
	"github.com/MrEthical07/goCred/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IssueSession mints an access token and the first refresh token of a new family for user.
//
// Store and crypto failures are logged and reported as ErrOperationFailed.
func (e *Engine) IssueSession(ctx context.Context, user Subject, ip, userAgent string) (IssuedSession, error) {
	if err := e.ready(); err != nil {
		return IssuedSession{}, err
	}
	if strings.TrimSpace(user.ID) == "" {
		return IssuedSession{}, ErrUserIDRequired
	}

	access, err := e.issueAccess(user.ID, user.Name, user.Role)
	if err != nil {
		return IssuedSession{}, e.opFailed("issue_session", err, zap.String("user_id", user.ID))
	}

	refreshToken, refreshHash, err := refresh.New()
	if err != nil {
		return IssuedSession{}, e.opFailed("issue_session", err, zap.String("user_id", user.ID))
	}

	now := e.now()
	rec := &store.RefreshToken{
		ID:            uuid.NewString(),
		TokenHash:     refreshHash,
		AccessTokenID: access.TokenID,
		UserID:        user.ID,
		SubjectName:   user.Name,
		SubjectRole:   user.Role,
		FamilyID:      uuid.NewString(),
		CreatedByIP:   sourceIP(ctx, ip),
		UserAgent:     userAgentOr(ctx, userAgent),
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.config.Refresh.TTL),
	}
	if err := e.store.SaveRefreshToken(ctx, rec); err != nil {
		return IssuedSession{}, e.opFailed("issue_session", err, zap.String("user_id", user.ID))
	}

	e.metricInc(MetricSessionIssued)

	return IssuedSession{
		AccessToken:      access.Token,
		RefreshToken:     refreshToken,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: rec.ExpiresAt,
		FamilyID:         rec.FamilyID,
		TokenID:          access.TokenID,
	}, nil
}

// Verify checks an access token and returns its principal. The blacklist is consulted on
// every call.
func (e *Engine) Verify(ctx context.Context, token string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}()
	}

	res := e.flows.Verify(ctx, token)
	switch res.Failure {
	case flows.VerifyFailureNone:
		e.metricInc(MetricVerifySuccess)
		return principalFromClaims(res), nil
	case flows.VerifyFailureExpired:
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenExpired
	case flows.VerifyFailureBlacklisted:
		e.metricInc(MetricVerifyFailure)
		e.metricInc(MetricVerifyBlacklisted)
		e.emitSecurity(ctx, EventBlacklistedTokenUsed, res.Claims.Subject, sourceIP(ctx, ""), riskBlacklistedTokenUse, func() map[string]string {
			return map[string]string{"jti": res.Claims.ID}
		})
		return nil, ErrTokenBlacklisted
	case flows.VerifyFailureBackend:
		e.metricInc(MetricVerifyFailure)
		return nil, e.opFailed("verify", res.Err)
	default:
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenInvalid
	}
}

func (e *Engine) issueAccess(subject, name, role string) (flows.IssuedAccess, error) {
	jti := uuid.NewString()
	signed, exp, err := e.jwtManager.CreateAccess(subject, name, role, jti)
	if err != nil {
		return flows.IssuedAccess{}, err
	}
	if e.config.Token.EncryptAccessTokens {
		signed, err = e.crypto.Encrypt(purposeAccessToken, []byte(signed))
		if err != nil {
			return flows.IssuedAccess{}, err
		}
	}
	return flows.IssuedAccess{Token: signed, TokenID: jti, ExpiresAt: exp}, nil
}

func principalFromClaims(res flows.VerifyResult) *Principal {
	c := res.Claims
	p := &Principal{
		UserID:  c.Subject,
		Name:    c.Name,
		Role:    c.Role,
		TokenID: c.ID,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

func userAgentOr(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return UserAgentFromContext(ctx)
}
