// Package flows contains pure-function orchestrators for the Engine's multi-step
// operations: refresh rotation, access-token verification and API key validation.
//
// Each flow function (RunRotate, RunVerify, RunValidateAPIKey) accepts a typed
// dependency struct and returns a result carrying a failure kind instead of a public
// error. The Engine maps kinds to sentinels, security events and metrics.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the credential store, JWT manager and crypto
// provider. They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goCred (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
