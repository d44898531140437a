package refresh

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/MrEthical07/goCred/internal"
)

// SecretSize is the number of random bytes in a refresh token.
const SecretSize = 64

// ErrMalformed is returned for any string that is not an encoded SecretSize-byte secret.
var ErrMalformed = errors.New("malformed refresh token")

// encodedLen is the unpadded base64url length of a SecretSize-byte secret.
var encodedLen = base64.RawURLEncoding.EncodedLen(SecretSize)

// New returns a fresh transport token and the hash under which it is stored.
func New() (token string, hash string, err error) {
	secret, err := internal.RandomBytes(SecretSize)
	if err != nil {
		return "", "", err
	}
	return Encode(secret), hashSecret(secret), nil
}

// Encode returns the transport form of secret.
func Encode(secret []byte) string {
	return base64.RawURLEncoding.EncodeToString(secret)
}

// Decode validates and decodes a transport token.
func Decode(token string) ([]byte, error) {
	if len(token) != encodedLen {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != SecretSize {
		return nil, ErrMalformed
	}
	return raw, nil
}

// Hash returns the store lookup key for a transport token.
func Hash(token string) (string, error) {
	secret, err := Decode(token)
	if err != nil {
		return "", err
	}
	return hashSecret(secret), nil
}

func hashSecret(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
