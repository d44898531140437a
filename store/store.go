package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a unique key (prefix, token hash) already exists.
	ErrConflict = errors.New("store: record already exists")
	// ErrUnavailable wraps backend failures (network, driver, decode).
	ErrUnavailable = errors.New("store: backend unavailable")
)

// ConsumeOutcome is the result of an atomic refresh-token consume attempt.
type ConsumeOutcome int

const (
	// ConsumeRotated means the token was unused and has now been marked used.
	ConsumeRotated ConsumeOutcome = iota
	// ConsumeNotFound means no token with the presented hash exists.
	ConsumeNotFound
	// ConsumeExpired means the token exists but is past its expiry.
	ConsumeExpired
	// ConsumeUsed means the token was already rotated. Presenting it again is a replay.
	ConsumeUsed
	// ConsumeRevoked means the token was revoked.
	ConsumeRevoked
)

func (o ConsumeOutcome) String() string {
	switch o {
	case ConsumeRotated:
		return "rotated"
	case ConsumeNotFound:
		return "not_found"
	case ConsumeExpired:
		return "expired"
	case ConsumeUsed:
		return "used"
	case ConsumeRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RefreshTokenStore persists refresh-token chains.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically checks that the token is neither used, revoked nor
	// expired, marks it used with a link to successor and saves successor. Either both
	// writes happen or neither does. When several callers race on the same hash exactly one
	// observes ConsumeRotated. The returned record is non-nil for every outcome except
	// ConsumeNotFound. err is reserved for backend failures and ErrConflict when the
	// successor hash already exists.
	ConsumeRefreshToken(ctx context.Context, tokenHash string, successor *RefreshToken, now time.Time) (*RefreshToken, ConsumeOutcome, error)

	// ListFamily returns all tokens of a family ordered oldest first.
	ListFamily(ctx context.Context, familyID string) ([]RefreshToken, error)
	// RevokeFamily flags every unrevoked token of the family and returns how many changed.
	RevokeFamily(ctx context.Context, familyID string, rev Revocation) (int, error)
	// RevokeRefreshTokens flags the listed tokens.
	RevokeRefreshTokens(ctx context.Context, tokenHashes []string, rev Revocation) (int, error)

	// PurgeRefreshTokens deletes at most limit tokens that expired before now or were
	// revoked before revokedBefore.
	PurgeRefreshTokens(ctx context.Context, now, revokedBefore time.Time, limit int) (int, error)
}

// BlacklistStore persists revoked access-token identifiers.
type BlacklistStore interface {
	// AddBlacklistEntry stores entry until entry.ExpiresAt, measured from now.
	AddBlacklistEntry(ctx context.Context, entry *BlacklistEntry, now time.Time) error
	// IsBlacklisted reports whether an unexpired entry exists for the jti hash.
	IsBlacklisted(ctx context.Context, jtiHash string, now time.Time) (bool, error)
	PurgeBlacklist(ctx context.Context, now time.Time, limit int) (int, error)
}

// APIKeyStore persists API key records. Records are never hard-deleted.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	GetAPIKeyByID(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error)
	// TouchAPIKey increments the usage counter and sets the last-used timestamp.
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
	UpdateAPIKeyState(ctx context.Context, id string, change APIKeyStateChange) error
}

// UsageStore persists append-only API key usage records.
type UsageStore interface {
	RecordUsage(ctx context.Context, record *UsageRecord) error
	// CountUsage counts records of the key with since < timestamp <= until.
	CountUsage(ctx context.Context, keyID string, since, until time.Time) (int64, error)
	// OldestUsage returns the timestamp of the earliest record with since < timestamp <= until,
	// or ErrNotFound when the window is empty.
	OldestUsage(ctx context.Context, keyID string, since, until time.Time) (time.Time, error)
	PurgeUsage(ctx context.Context, before time.Time, limit int) (int, error)
}

// PasswordHistoryStore persists previously used password hashes.
type PasswordHistoryStore interface {
	// AddPasswordHistory appends an entry and prunes the user's history to keep entries.
	AddPasswordHistory(ctx context.Context, entry *PasswordHistoryEntry, keep int) error
	// RecentPasswordHistory returns up to limit entries, newest first.
	RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordHistoryEntry, error)
}

// LockoutStore persists per-account failed-attempt state.
type LockoutStore interface {
	// GetLockout returns the state or a zero state (not ErrNotFound) when none exists.
	GetLockout(ctx context.Context, userID string) (*LockoutState, error)
	// IncrementFailures atomically bumps the failure counter and returns the new state.
	// Counters older than window are restarted from zero.
	IncrementFailures(ctx context.Context, userID, ip string, now time.Time, window time.Duration) (*LockoutState, error)
	SetLockedUntil(ctx context.Context, userID string, until time.Time, reason string) error
	ClearLockout(ctx context.Context, userID string) error
	// PurgeLockouts deletes states that are not locked and whose last failure is before
	// staleBefore.
	PurgeLockouts(ctx context.Context, now, staleBefore time.Time, limit int) (int, error)
}

// Store is the full credential persistence contract.
type Store interface {
	RefreshTokenStore
	BlacklistStore
	APIKeyStore
	UsageStore
	PasswordHistoryStore
	LockoutStore

	Ping(ctx context.Context) error
}
