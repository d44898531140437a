// Package goCred issues and verifies service credentials: signed access tokens, rotating
// opaque refresh tokens grouped into families, API keys with scopes, IP and domain
// restrictions and sliding rate limits, Argon2id password hashing with a strength policy and
// reuse history, and per-account lockouts.
//
// Engine methods are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goCred is the public surface. It exposes [Engine], [Builder], [Config], the sentinel
// errors and value types. Flow orchestration, audit dispatch and counters live under
// internal/. Persistence goes through the store.Store contract, implemented by
// store/redisstore and store/postgres.
//
// # Errors
//
// Callers see three kinds of error. Validation errors (ErrAPIKeyRequestInvalid,
// ErrPasswordPolicy) describe bad input. Security errors (ErrTokenBlacklisted,
// ErrRefreshReplay, ErrAPIKeyRevoked and friends) are returned unwrapped so they can be
// compared with errors.Is. Store and crypto failures are logged with their cause and
// surface only as ErrOperationFailed.
//
// # Security events
//
// Replay detection, lockouts, rate limit breaches and denied API key checks are reported to
// the configured [SecuritySink] through a bounded asynchronous queue. A slow sink never
// blocks a credential operation; with Audit.DropIfFull the event is counted and dropped.
package goCred
