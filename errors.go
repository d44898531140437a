package goCred

import "errors"

var (
	// ErrTokenInvalid is returned for access tokens that fail signature, issuer, audience or
	// shape checks, and for tokens that cannot be unwrapped.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for correctly signed access tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenBlacklisted is returned for access tokens whose jti has been revoked.
	ErrTokenBlacklisted = errors.New("token revoked")

	// ErrRefreshNotFound is returned when the presented refresh token is unknown or malformed.
	ErrRefreshNotFound = errors.New("refresh token not found")
	// ErrRefreshExpired is returned when the presented refresh token is past its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshRevoked is returned when the presented refresh token was revoked.
	ErrRefreshRevoked = errors.New("refresh token revoked")
	// ErrRefreshReplay is returned when an already rotated refresh token is presented again.
	// The whole family is revoked before the error is returned.
	ErrRefreshReplay = errors.New("refresh token replay detected")

	// ErrAPIKeyInvalid covers malformed keys, unknown prefixes and secret mismatches.
	ErrAPIKeyInvalid = errors.New("invalid api key")
	// ErrAPIKeyInactive is returned for deactivated keys.
	ErrAPIKeyInactive = errors.New("api key inactive")
	// ErrAPIKeyRevoked is returned for revoked keys.
	ErrAPIKeyRevoked = errors.New("api key revoked")
	// ErrAPIKeyExpired is returned for keys past their expiry.
	ErrAPIKeyExpired = errors.New("api key expired")
	// ErrAPIKeyRequestInvalid is returned when a key generation request fails validation.
	ErrAPIKeyRequestInvalid = errors.New("invalid api key request")
	// ErrAPIKeyNotFound is returned by lifecycle operations for unknown key ids.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrPasswordPolicy is returned when a candidate password is not strong enough.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a candidate matches a recent password.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrAccountLocked is returned by EnsureUnlocked for a locked account.
	ErrAccountLocked = errors.New("account locked")
	// ErrUserIDRequired is returned when a lockout or password operation has no user id.
	ErrUserIDRequired = errors.New("user id required")

	// ErrOperationFailed hides store and crypto failures from callers. The cause is logged.
	ErrOperationFailed = errors.New("credential operation failed")
	// ErrEngineNotReady is returned when a method is called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
