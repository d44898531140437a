// Package refresh implements the opaque rotating refresh token format.
//
// # Token format
//
// A token is 64 bytes from crypto/rand encoded as unpadded base64url. Tokens are never
// stored in plaintext; the store keeps only the hex SHA-256 of the raw secret.
//
// # Architecture boundaries
//
// This package owns token encoding, decoding and hashing. Rotation policy, replay
// detection and family revocation are handled by the Engine and the credential store.
//
// # What this package must NOT do
//
//   - Access Redis, Postgres or any other I/O.
//   - Import goCred, jwt or store.
//   - Implement rotation or replay logic.
package refresh
