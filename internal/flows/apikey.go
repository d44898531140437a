package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goCred/apikey"
	"github.com/MrEthical07/goCred/store"
)

// APIKeyFailureKind classifies API key validation failures. Each kind carries its own
// risk score for the security event.
type APIKeyFailureKind int

const (
	APIKeyFailureNone APIKeyFailureKind = iota
	APIKeyFailureMalformed
	APIKeyFailureUnknownPrefix
	APIKeyFailureMismatch
	APIKeyFailureInactive
	APIKeyFailureRevoked
	APIKeyFailureExpired
	APIKeyFailureBackend
)

// RiskScore is the security event risk for the failure kind.
func (k APIKeyFailureKind) RiskScore() int {
	switch k {
	case APIKeyFailureMalformed:
		return 20
	case APIKeyFailureExpired:
		return 30
	case APIKeyFailureUnknownPrefix, APIKeyFailureInactive:
		return 40
	case APIKeyFailureRevoked:
		return 60
	case APIKeyFailureMismatch:
		return 80
	default:
		return 0
	}
}

func (k APIKeyFailureKind) String() string {
	switch k {
	case APIKeyFailureNone:
		return "none"
	case APIKeyFailureMalformed:
		return "malformed"
	case APIKeyFailureUnknownPrefix:
		return "unknown_prefix"
	case APIKeyFailureMismatch:
		return "hash_mismatch"
	case APIKeyFailureInactive:
		return "inactive"
	case APIKeyFailureRevoked:
		return "revoked"
	case APIKeyFailureExpired:
		return "expired"
	case APIKeyFailureBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// APIKeyResult carries the validated key or failure metadata.
type APIKeyResult struct {
	Failure APIKeyFailureKind
	Err     error
	Prefix  string
	Key     *store.APIKey
}

// APIKeyDeps captures API key validation dependencies.
type APIKeyDeps struct {
	Now          func() time.Time
	Lookup       func(ctx context.Context, prefix string) (*store.APIKey, error)
	VerifySecret func(secret, hash string) bool
	DummyVerify  func(secret string)
	Touch        func(ctx context.Context, id string, usedAt time.Time) error
	Warn         func(string, ...any)
}

// RunValidateAPIKey parses key, looks it up by prefix, verifies the secret and checks the
// key's state. On success the usage counter is advanced.
func RunValidateAPIKey(ctx context.Context, key string, deps APIKeyDeps) APIKeyResult {
	prefix, secret, err := apikey.Parse(key)
	if err != nil {
		return APIKeyResult{Failure: APIKeyFailureMalformed, Err: err}
	}

	rec, err := deps.Lookup(ctx, prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			deps.DummyVerify(secret)
			return APIKeyResult{Failure: APIKeyFailureUnknownPrefix, Prefix: prefix}
		}
		return APIKeyResult{Failure: APIKeyFailureBackend, Err: err, Prefix: prefix}
	}

	if !deps.VerifySecret(secret, rec.SecretHash) {
		return APIKeyResult{Failure: APIKeyFailureMismatch, Prefix: prefix, Key: rec}
	}

	now := deps.Now()
	switch {
	case rec.Revoked:
		return APIKeyResult{Failure: APIKeyFailureRevoked, Prefix: prefix, Key: rec}
	case !rec.Active:
		return APIKeyResult{Failure: APIKeyFailureInactive, Prefix: prefix, Key: rec}
	case rec.Expired(now):
		return APIKeyResult{Failure: APIKeyFailureExpired, Prefix: prefix, Key: rec}
	}

	if err := deps.Touch(ctx, rec.ID, now); err != nil {
		if deps.Warn != nil {
			deps.Warn("goCred: api key usage update failed", "key_id", rec.ID, "error", err)
		}
	} else {
		rec.UsageCount++
		used := now
		rec.LastUsedAt = &used
	}
	return APIKeyResult{Prefix: prefix, Key: rec}
}
