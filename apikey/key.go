// Package apikey implements the API key wire format.
//
// A key reads {tag}_{timestampHex}_{secret}. The first two segments form the prefix, which
// is stored in clear and indexed; the secret is 32 random bytes as 64 lowercase hex
// characters and is only ever stored as a salted hash.
package apikey

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/internal"
)

const (
	secretBytes = 32
	// SecretLen is the length of the secret segment.
	SecretLen = secretBytes * 2
	maxTagLen = 16
)

// ErrMalformed is returned by Parse for strings that cannot be an API key.
var ErrMalformed = errors.New("malformed api key")

// ValidTag reports whether tag is usable as the leading key segment.
func ValidTag(tag string) bool {
	if tag == "" || len(tag) > maxTagLen {
		return false
	}
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Generate builds a new key. now supplies the timestamp segment (nanosecond resolution).
func Generate(tag string, now time.Time) (full, prefix, secret string, err error) {
	if !ValidTag(tag) {
		return "", "", "", errors.New("invalid api key tag")
	}
	secret, err = internal.RandomHex(secretBytes)
	if err != nil {
		return "", "", "", err
	}
	prefix = tag + "_" + strconv.FormatInt(now.UnixNano(), 16)
	return prefix + "_" + secret, prefix, secret, nil
}

// Parse splits key on its last separator and checks the shape of both halves.
func Parse(key string) (prefix, secret string, err error) {
	i := strings.LastIndexByte(key, '_')
	if i <= 0 || i == len(key)-1 {
		return "", "", ErrMalformed
	}
	prefix, secret = key[:i], key[i+1:]

	tag, ts, ok := strings.Cut(prefix, "_")
	if !ok || !ValidTag(tag) || ts == "" || !isLowerHex(ts) || len(ts) > 16 {
		return "", "", ErrMalformed
	}
	if len(secret) != SecretLen || !isLowerHex(secret) {
		return "", "", ErrMalformed
	}
	return prefix, secret, nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
