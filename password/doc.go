// Package password implements password hashing, strength scoring and secure generation.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes are still accepted by [Argon2.Verify], and [Argon2.NeedsUpgrade]
// reports them (and Argon2id hashes with weaker parameters) so the caller can re-hash on
// the next successful login.
//
// # Scoring
//
// [Policy.Score] is deterministic. Length, character classes and deny-list absence add
// points; sequences and repeated runs subtract. Missing required classes, length bounds
// and deny-list hits are blocking. A password is strong when it scores at least 80 with no
// blocking violation.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goCred package besides internal helpers.
//   - Log plaintext passwords or hash parameters at runtime.
package password
