// Package jwt signs and verifies access tokens (HS256 by default, Ed25519 optional) with
// strict issuer, audience, expiry and leeway validation.
package jwt
