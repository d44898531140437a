package redisstore

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/goCred/store"
)

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func optMS(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return msString(*t)
}

func parseMS(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func parseOptMS(v string) *time.Time {
	t := parseMS(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func encodeRefresh(t *store.RefreshToken) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"token_hash":      t.TokenHash,
		"access_token_id": t.AccessTokenID,
		"user_id":         t.UserID,
		"family_id":       t.FamilyID,
		"created_by_ip":   t.CreatedByIP,
		"user_agent":      t.UserAgent,
		"subject_name":    t.SubjectName,
		"subject_role":    t.SubjectRole,
		"created_at":      msString(t.CreatedAt),
		"expires_at":      msString(t.ExpiresAt),
		"used":            flag(t.Used),
		"used_at":         optMS(t.UsedAt),
		"revoked":         flag(t.Revoked),
		"revoked_at":      optMS(t.RevokedAt),
		"revoked_reason":  t.RevokedReason,
		"revoked_by":      t.RevokedBy,
		"replaced_by":     t.ReplacedBy,
	}
}

func decodeRefresh(m map[string]string) (*store.RefreshToken, error) {
	if len(m) == 0 {
		return nil, store.ErrNotFound
	}
	if m["token_hash"] == "" || m["family_id"] == "" {
		return nil, errors.New("corrupt refresh token record")
	}
	return &store.RefreshToken{
		ID:            m["id"],
		TokenHash:     m["token_hash"],
		AccessTokenID: m["access_token_id"],
		UserID:        m["user_id"],
		FamilyID:      m["family_id"],
		CreatedByIP:   m["created_by_ip"],
		UserAgent:     m["user_agent"],
		SubjectName:   m["subject_name"],
		SubjectRole:   m["subject_role"],
		CreatedAt:     parseMS(m["created_at"]),
		ExpiresAt:     parseMS(m["expires_at"]),
		Used:          m["used"] == "1",
		UsedAt:        parseOptMS(m["used_at"]),
		Revoked:       m["revoked"] == "1",
		RevokedAt:     parseOptMS(m["revoked_at"]),
		RevokedReason: m["revoked_reason"],
		RevokedBy:     m["revoked_by"],
		ReplacedBy:    m["replaced_by"],
	}, nil
}

func encodeAPIKey(k *store.APIKey) (map[string]any, error) {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return nil, err
	}
	ips, err := json.Marshal(k.AllowedIPs)
	if err != nil {
		return nil, err
	}
	domains, err := json.Marshal(k.AllowedDomains)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":              k.ID,
		"prefix":          k.Prefix,
		"secret_hash":     k.SecretHash,
		"name":            k.Name,
		"description":     k.Description,
		"user_id":         k.UserID,
		"scopes":          string(scopes),
		"allowed_ips":     string(ips),
		"allowed_domains": string(domains),
		"rate_limit_hour": k.RateLimitHour,
		"rate_limit_day":  k.RateLimitDay,
		"environment":     k.Environment,
		"expires_at":      optMS(k.ExpiresAt),
		"active":          flag(k.Active),
		"revoked":         flag(k.Revoked),
		"revoked_at":      optMS(k.RevokedAt),
		"revoked_reason":  k.RevokedReason,
		"revoked_by":      k.RevokedBy,
		"usage_count":     k.UsageCount,
		"last_used_at":    optMS(k.LastUsedAt),
		"created_at":      msString(k.CreatedAt),
	}, nil
}

func decodeAPIKey(m map[string]string) (*store.APIKey, error) {
	if len(m) == 0 {
		return nil, store.ErrNotFound
	}
	k := &store.APIKey{
		ID:            m["id"],
		Prefix:        m["prefix"],
		SecretHash:    m["secret_hash"],
		Name:          m["name"],
		Description:   m["description"],
		UserID:        m["user_id"],
		Environment:   m["environment"],
		ExpiresAt:     parseOptMS(m["expires_at"]),
		Active:        m["active"] == "1",
		Revoked:       m["revoked"] == "1",
		RevokedAt:     parseOptMS(m["revoked_at"]),
		RevokedReason: m["revoked_reason"],
		RevokedBy:     m["revoked_by"],
		LastUsedAt:    parseOptMS(m["last_used_at"]),
		CreatedAt:     parseMS(m["created_at"]),
	}
	var err error
	if k.RateLimitHour, err = strconv.Atoi(m["rate_limit_hour"]); err != nil {
		return nil, errors.New("corrupt api key rate_limit_hour")
	}
	if k.RateLimitDay, err = strconv.Atoi(m["rate_limit_day"]); err != nil {
		return nil, errors.New("corrupt api key rate_limit_day")
	}
	if k.UsageCount, err = strconv.ParseInt(m["usage_count"], 10, 64); err != nil {
		return nil, errors.New("corrupt api key usage_count")
	}
	for field, dst := range map[string]*[]string{
		"scopes":          &k.Scopes,
		"allowed_ips":     &k.AllowedIPs,
		"allowed_domains": &k.AllowedDomains,
	} {
		if raw := m[field]; raw != "" {
			if err := json.Unmarshal([]byte(raw), dst); err != nil {
				return nil, errors.New("corrupt api key " + field)
			}
		}
	}
	return k, nil
}

func decodeLockout(userID string, m map[string]string) *store.LockoutState {
	state := &store.LockoutState{UserID: userID}
	if len(m) == 0 {
		return state
	}
	state.Failures, _ = strconv.Atoi(m["failures"])
	state.LockedUntil = parseOptMS(m["locked_until"])
	state.Reason = m["reason"]
	state.LastFailureAt = parseOptMS(m["last_failure_at"])
	state.LastFailureIP = m["last_failure_ip"]
	return state
}
