// Package cryptox provides the symmetric, one-way and secret-hashing primitives used by
// goCred.
//
// Encryption keys are derived per purpose from a single master key with HKDF-SHA256 and
// cached; the purpose string is also bound as GCM additional data, so a payload sealed for
// one purpose cannot be opened under another.
//
// # What this package must NOT do
//
//   - Hash user passwords. Password hashing lives in the password package.
//   - Log or return key material.
package cryptox
