package goCred

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/cryptox"
	"github.com/MrEthical07/goCred/internal/flows"
	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/store"
	"go.uber.org/zap"
)

// Blacklist revokes the access token identified by jti until expiresAt. A zero or past
// expiresAt is clamped to now plus the access token TTL, which outlives any token signed
// before the call.
//
// The entry records the principal attached to ctx as the revoking party, or "system" when
// there is none.
func (e *Engine) Blacklist(ctx context.Context, jti, userID, reason, ip string, expiresAt time.Time) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(jti) == "" {
		return ErrTokenInvalid
	}

	now := e.now()
	if !expiresAt.After(now) {
		expiresAt = now.Add(e.config.Token.AccessTTL)
	}
	ip = sourceIP(ctx, ip)
	actor := actorFromContext(ctx)

	if err := e.store.AddBlacklistEntry(ctx, blacklistEntry(jti, userID, reason, actor, ip, now, expiresAt), now); err != nil {
		return e.opFailed("blacklist", err, zap.String("user_id", userID))
	}

	e.metricInc(MetricBlacklistAdded)
	e.emitSecurity(ctx, EventTokenBlacklisted, actorOr(userID, actor), ip, riskTokenBlacklisted, func() map[string]string {
		return map[string]string{"jti": jti, "reason": reason, "actor": actor}
	})
	return nil
}

// blacklistFamilyAccess blacklists the access token minted with each member of familyID
// until that token lapses. Members whose access token already expired are skipped.
func (e *Engine) blacklistFamilyAccess(ctx context.Context, familyID, actor, ip, reason string) (int, error) {
	members, err := e.store.ListFamily(ctx, familyID)
	if err != nil {
		return 0, err
	}
	now := e.now()
	added := 0
	for _, m := range members {
		if m.AccessTokenID == "" {
			continue
		}
		// Access tokens are minted with their refresh token; leeway keeps them verifiable a
		// little past exp.
		exp := m.CreatedAt.Add(e.config.Token.AccessTTL + e.config.Token.Leeway)
		if !exp.After(now) {
			continue
		}
		if err := e.store.AddBlacklistEntry(ctx, blacklistEntry(m.AccessTokenID, m.UserID, reason, actor, ip, now, exp), now); err != nil {
			return added, err
		}
		added++
	}
	e.metricAdd(MetricBlacklistAdded, added)
	return added, nil
}

func blacklistEntry(jti, userID, reason, actor, ip string, now, expiresAt time.Time) *store.BlacklistEntry {
	return &store.BlacklistEntry{
		JTI:       jti,
		JTIHash:   cryptox.Hash(jti),
		UserID:    userID,
		ExpiresAt: expiresAt,
		Reason:    reason,
		RevokedBy: actor,
		RevokedIP: ip,
		CreatedAt: now,
	}
}

func actorFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID
	}
	return flows.ActorSystem
}

// IsBlacklisted reports whether jti has an unexpired blacklist entry.
func (e *Engine) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	listed, err := e.store.IsBlacklisted(ctx, cryptox.Hash(jti), e.now())
	if err != nil {
		return false, e.opFailed("is_blacklisted", err)
	}
	return listed, nil
}

// RevokeAccessToken blacklists a presented access token until its own expiry. Expired
// tokens need no entry and return nil.
func (e *Engine) RevokeAccessToken(ctx context.Context, token, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	signed := token
	if e.config.Token.EncryptAccessTokens {
		b, err := e.crypto.Decrypt(purposeAccessToken, token)
		if err != nil {
			return ErrTokenInvalid
		}
		signed = string(b)
	}
	claims, err := e.jwtManager.ParseAccess(signed)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil
		}
		return ErrTokenInvalid
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return e.Blacklist(ctx, claims.ID, claims.Subject, reason, "", exp)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
