package store

import "time"

// RefreshToken is one link of a rotation chain.
type RefreshToken struct {
	ID            string     `db:"id" json:"id"`
	TokenHash     string     `db:"token_hash" json:"token_hash"`
	AccessTokenID string     `db:"access_token_id" json:"access_token_id"`
	UserID        string     `db:"user_id" json:"user_id"`
	SubjectName   string     `db:"subject_name" json:"subject_name,omitempty"`
	SubjectRole   string     `db:"subject_role" json:"subject_role,omitempty"`
	FamilyID      string     `db:"family_id" json:"family_id"`
	CreatedByIP   string     `db:"created_by_ip" json:"created_by_ip,omitempty"`
	UserAgent     string     `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	Used          bool       `db:"used" json:"used"`
	UsedAt        *time.Time `db:"used_at" json:"used_at,omitempty"`
	Revoked       bool       `db:"revoked" json:"revoked"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason string     `db:"revoked_reason" json:"revoked_reason,omitempty"`
	RevokedBy     string     `db:"revoked_by" json:"revoked_by,omitempty"`
	ReplacedBy    string     `db:"replaced_by" json:"replaced_by,omitempty"`
}

// Active reports whether the token can still be rotated at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t != nil && !t.Used && !t.Revoked && now.Before(t.ExpiresAt)
}

// Revocation describes who revoked a credential and why.
type Revocation struct {
	Reason string
	Actor  string
	At     time.Time
}

// BlacklistEntry marks an access token as revoked before its natural expiry.
type BlacklistEntry struct {
	JTI       string    `db:"jti" json:"jti"`
	JTIHash   string    `db:"jti_hash" json:"jti_hash"`
	UserID    string    `db:"user_id" json:"user_id,omitempty"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	RevokedBy string    `db:"revoked_by" json:"revoked_by,omitempty"`
	RevokedIP string    `db:"revoked_ip" json:"revoked_ip,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// APIKey is a long-lived credential. SecretHash is never serialized to callers.
type APIKey struct {
	ID             string     `db:"id" json:"id"`
	Prefix         string     `db:"prefix" json:"prefix"`
	SecretHash     string     `db:"secret_hash" json:"-"`
	Name           string     `db:"name" json:"name"`
	Description    string     `db:"description" json:"description,omitempty"`
	UserID         string     `db:"user_id" json:"user_id"`
	Scopes         []string   `db:"scopes" json:"scopes"`
	AllowedIPs     []string   `db:"allowed_ips" json:"allowed_ips,omitempty"`
	AllowedDomains []string   `db:"allowed_domains" json:"allowed_domains,omitempty"`
	RateLimitHour  int        `db:"rate_limit_hour" json:"rate_limit_hour"`
	RateLimitDay   int        `db:"rate_limit_day" json:"rate_limit_day"`
	Environment    string     `db:"environment" json:"environment"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Active         bool       `db:"active" json:"active"`
	Revoked        bool       `db:"revoked" json:"revoked"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason  string     `db:"revoked_reason" json:"revoked_reason,omitempty"`
	RevokedBy      string     `db:"revoked_by" json:"revoked_by,omitempty"`
	UsageCount     int64      `db:"usage_count" json:"usage_count"`
	LastUsedAt     *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// APIKeyStateChange is a soft-flag mutation. Nil fields are left untouched.
type APIKeyStateChange struct {
	Active     *bool
	Revocation *Revocation
}

// UsageRecord is one request authenticated by an API key.
type UsageRecord struct {
	ID               string        `db:"id" json:"id"`
	KeyID            string        `db:"key_id" json:"key_id"`
	Endpoint         string        `db:"endpoint" json:"endpoint"`
	Method           string        `db:"method" json:"method"`
	IP               string        `db:"ip" json:"ip,omitempty"`
	UserAgent        string        `db:"user_agent" json:"user_agent,omitempty"`
	StatusCode       int           `db:"status_code" json:"status_code"`
	Latency          time.Duration `db:"-" json:"latency"`
	RequestBytes     int64         `db:"request_bytes" json:"request_bytes"`
	ResponseBytes    int64         `db:"response_bytes" json:"response_bytes"`
	Success          bool          `db:"success" json:"success"`
	Suspicious       bool          `db:"suspicious" json:"suspicious"`
	SuspiciousReason string        `db:"suspicious_reason" json:"suspicious_reason,omitempty"`
	RiskScore        int           `db:"risk_score" json:"risk_score"`
	Timestamp        time.Time     `db:"ts" json:"ts"`
}

// PasswordHistoryEntry is a previously set password hash.
type PasswordHistoryEntry struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Hash      string    `db:"hash" json:"hash"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LockoutState is the per-account failed-authentication state.
type LockoutState struct {
	UserID        string     `db:"user_id" json:"user_id"`
	Failures      int        `db:"failures" json:"failures"`
	LockedUntil   *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	Reason        string     `db:"reason" json:"reason,omitempty"`
	LastFailureAt *time.Time `db:"last_failure_at" json:"last_failure_at,omitempty"`
	LastFailureIP string     `db:"last_failure_ip" json:"last_failure_ip,omitempty"`
}

// Locked reports whether the account is locked at now.
func (s *LockoutState) Locked(now time.Time) bool {
	return s != nil && s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
