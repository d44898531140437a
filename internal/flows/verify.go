package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goCred/jwt"
)

// VerifyFailureKind classifies access-token verification failures.
type VerifyFailureKind int

const (
	VerifyFailureNone VerifyFailureKind = iota
	VerifyFailureInvalid
	VerifyFailureExpired
	VerifyFailureBlacklisted
	VerifyFailureBackend
)

// VerifyResult returns the verified claims or a classified failure.
type VerifyResult struct {
	Failure VerifyFailureKind
	Err     error
	Claims  *jwt.AccessClaims
}

// VerifyDeps captures access-token verification dependencies.
type VerifyDeps struct {
	// Unwrap removes the optional encryption layer. Nil when the layer is disabled.
	Unwrap        func(string) (string, error)
	ParseAccess   func(string) (*jwt.AccessClaims, error)
	IsBlacklisted func(ctx context.Context, jti string) (bool, error)
}

// RunVerify checks signature, issuer, audience and expiry, then always consults the
// blacklist before accepting the token.
func RunVerify(ctx context.Context, token string, deps VerifyDeps) VerifyResult {
	if token == "" {
		return VerifyResult{Failure: VerifyFailureInvalid, Err: errors.New("empty token")}
	}
	if deps.Unwrap != nil {
		signed, err := deps.Unwrap(token)
		if err != nil {
			return VerifyResult{Failure: VerifyFailureInvalid, Err: err}
		}
		token = signed
	}

	claims, err := deps.ParseAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return VerifyResult{Failure: VerifyFailureExpired, Err: err}
		}
		return VerifyResult{Failure: VerifyFailureInvalid, Err: err}
	}

	listed, err := deps.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureBackend, Err: err, Claims: claims}
	}
	if listed {
		return VerifyResult{Failure: VerifyFailureBlacklisted, Claims: claims}
	}
	return VerifyResult{Claims: claims}
}
