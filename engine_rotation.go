package goCred

import (
	"context"
	"strings"

	"github.com/MrEthical07/goCred/internal/flows"
	"github.com/MrEthical07/goCred/refresh"
	"github.com/MrEthical07/goCred/store"
	"go.uber.org/zap"
)

// Rotate exchanges a refresh token for a new token pair in the same family.
//
// Presenting an already rotated token is treated as theft: the whole family is revoked and
// ErrRefreshReplay is returned. Presenting a revoked token revokes the family again and
// returns ErrRefreshRevoked.
func (e *Engine) Rotate(ctx context.Context, refreshToken, ip, userAgent string) (IssuedSession, error) {
	if err := e.ready(); err != nil {
		return IssuedSession{}, err
	}
	ip = sourceIP(ctx, ip)

	res := e.flows.Rotate(ctx, flows.RotateRequest{
		Token:     refreshToken,
		IP:        ip,
		UserAgent: userAgentOr(ctx, userAgent),
	})

	switch res.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricRotateSuccess)
		if res.CapRevoked > 0 {
			e.metricAdd(MetricFamilyRevoked, res.CapRevoked)
			e.emitSecurity(ctx, EventRefreshFamilyCapped, res.Presented.UserID, ip, riskFamilyCapped, func() map[string]string {
				return map[string]string{
					"family_id": res.Presented.FamilyID,
					"revoked":   itoa(res.CapRevoked),
				}
			})
		}
		return IssuedSession{
			AccessToken:      res.AccessToken,
			RefreshToken:     res.RefreshToken,
			ExpiresAt:        res.AccessExpiresAt,
			RefreshExpiresAt: res.RefreshExpiresAt,
			FamilyID:         res.Presented.FamilyID,
			TokenID:          res.AccessTokenID,
		}, nil

	case flows.RotateFailureReplay:
		e.metricInc(MetricRotateReplay)
		e.metricAdd(MetricFamilyRevoked, res.FamilyRevoked)
		blacklisted := e.blacklistAfterReuse(ctx, res.Presented.FamilyID, ip, flows.ReasonReplay)
		e.logger.Warn("refresh token replay detected",
			zap.String("user_id", res.Presented.UserID),
			zap.String("family_id", res.Presented.FamilyID),
			zap.Int("revoked", res.FamilyRevoked),
			zap.Int("blacklisted", blacklisted),
		)
		e.emitSecurity(ctx, EventRefreshReplayDetected, res.Presented.UserID, ip, riskRefreshReplay, func() map[string]string {
			return map[string]string{
				"family_id":   res.Presented.FamilyID,
				"revoked":     itoa(res.FamilyRevoked),
				"blacklisted": itoa(blacklisted),
			}
		})
		return IssuedSession{}, ErrRefreshReplay

	case flows.RotateFailureRevoked:
		e.metricInc(MetricRotateFailure)
		e.metricAdd(MetricFamilyRevoked, res.FamilyRevoked)
		e.blacklistAfterReuse(ctx, res.Presented.FamilyID, ip, flows.ReasonRevokedReuse)
		e.emitSecurity(ctx, EventRefreshRevokedReuse, res.Presented.UserID, ip, riskRefreshRevokedReuse, func() map[string]string {
			return map[string]string{
				"family_id": res.Presented.FamilyID,
				"reason":    res.Presented.RevokedReason,
			}
		})
		return IssuedSession{}, ErrRefreshRevoked

	case flows.RotateFailureExpired:
		e.metricInc(MetricRotateFailure)
		return IssuedSession{}, ErrRefreshExpired

	case flows.RotateFailureNotFound:
		e.metricInc(MetricRotateFailure)
		return IssuedSession{}, ErrRefreshNotFound

	default:
		e.metricInc(MetricRotateFailure)
		return IssuedSession{}, e.opFailed("rotate", res.Err)
	}
}

// Revoke revokes the whole family the presented refresh token belongs to.
func (e *Engine) Revoke(ctx context.Context, refreshToken, ip, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	hash, err := refresh.Hash(refreshToken)
	if err != nil {
		return ErrRefreshNotFound
	}
	rec, err := e.store.GetRefreshToken(ctx, hash)
	if err != nil {
		return e.storeErr("revoke", err, ErrRefreshNotFound)
	}
	return e.revokeFamily(ctx, rec.FamilyID, rec.UserID, rec.UserID, ip, reason)
}

// RevokeFamily revokes every token of familyID on behalf of actor, typically an
// administrator. Unknown families are not an error.
func (e *Engine) RevokeFamily(ctx context.Context, familyID, actor, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(familyID) == "" {
		return ErrRefreshNotFound
	}
	return e.revokeFamily(ctx, familyID, "", actor, "", reason)
}

func (e *Engine) revokeFamily(ctx context.Context, familyID, userID, actor, ip, reason string) error {
	if reason == "" {
		reason = "revoked"
	}
	n, err := e.store.RevokeFamily(ctx, familyID, store.Revocation{Reason: reason, Actor: actor, At: e.now()})
	if err != nil {
		return e.opFailed("revoke_family", err, zap.String("family_id", familyID))
	}
	e.metricAdd(MetricFamilyRevoked, n)
	blacklisted, err := e.blacklistFamilyAccess(ctx, familyID, actorOr(actor, flows.ActorSystem), ip, reason)
	if err != nil {
		return e.opFailed("revoke_family", err, zap.String("family_id", familyID))
	}
	e.emitSecurity(ctx, EventRefreshFamilyRevoked, actorOr(userID, actor), ip, riskFamilyRevoked, func() map[string]string {
		return map[string]string{
			"family_id":   familyID,
			"reason":      reason,
			"revoked":     itoa(n),
			"blacklisted": itoa(blacklisted),
		}
	})
	return nil
}

// blacklistAfterReuse kills the access tokens of a family revoked by reuse detection. The
// rotation already failed closed, so a blacklist error is logged rather than returned.
func (e *Engine) blacklistAfterReuse(ctx context.Context, familyID, ip, reason string) int {
	n, err := e.blacklistFamilyAccess(ctx, familyID, flows.ActorSystem, ip, reason)
	if err != nil {
		e.logger.Error("family access token blacklist failed",
			zap.String("family_id", familyID),
			zap.Int("blacklisted", n),
			zap.Error(err),
		)
	}
	return n
}

func actorOr(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
