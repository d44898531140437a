package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"sync"

	"github.com/MrEthical07/goCred/internal"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
)

const (
	minMasterKeyBytes = 32
	derivedKeyBytes   = 32
	defaultBcryptCost = 12
)

var (
	// ErrDecrypt is returned for any ciphertext that fails to open: bad encoding, wrong key,
	// truncated input or tampering.
	ErrDecrypt = errors.New("decryption failed")
	// ErrInvalidMasterKey is returned by New for short master keys.
	ErrInvalidMasterKey = errors.New("master key must be at least 32 bytes")
)

// Config controls the provider.
type Config struct {
	// MasterKey is the HKDF input keying material. It is never used directly as a cipher key.
	MasterKey []byte
	// Salt is optional HKDF salt.
	Salt []byte
	// BcryptCost is the work factor for secret hashing. Zero selects 12.
	BcryptCost int
}

// Provider bundles the symmetric and one-way primitives used by the engine.
//
// Provider is safe for concurrent use. The only mutable state is the derived-key cache.
type Provider struct {
	master     []byte
	salt       []byte
	bcryptCost int
	dummyHash  []byte

	mu      sync.RWMutex
	derived map[string][]byte
}

// New validates cfg and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if len(cfg.MasterKey) < minMasterKeyBytes {
		return nil, ErrInvalidMasterKey
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = defaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("invalid bcrypt cost")
	}

	p := &Provider{
		master:     append([]byte(nil), cfg.MasterKey...),
		salt:       append([]byte(nil), cfg.Salt...),
		bcryptCost: cost,
		derived:    make(map[string][]byte),
	}

	filler, err := internal.RandomHex(32)
	if err != nil {
		return nil, err
	}
	p.dummyHash, err = bcrypt.GenerateFromPassword([]byte(filler), cost)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeriveKey returns the 32-byte key for purpose, deriving it once with HKDF-SHA256.
func (p *Provider) DeriveKey(purpose string) ([]byte, error) {
	p.mu.RLock()
	key, ok := p.derived[purpose]
	p.mu.RUnlock()
	if ok {
		return key, nil
	}

	key = make([]byte, derivedKeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, p.master, p.salt, []byte(purpose)), key); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.derived[purpose]; ok {
		key = existing
	} else {
		p.derived[purpose] = key
	}
	p.mu.Unlock()
	return key, nil
}

// Encrypt seals plaintext with AES-256-GCM under the key for purpose. The output is
// base64url(nonce || ciphertext) without padding.
func (p *Provider) Encrypt(purpose string, plaintext []byte) (string, error) {
	gcm, err := p.aead(purpose)
	if err != nil {
		return "", err
	}
	nonce, err := internal.RandomBytes(gcm.NonceSize())
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(purpose))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure is reported as ErrDecrypt.
func (p *Provider) Decrypt(purpose, encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecrypt
	}
	gcm, err := p.aead(purpose)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(purpose))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (p *Provider) aead(purpose string) (cipher.AEAD, error) {
	key, err := p.DeriveKey(purpose)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// HashSecret returns a salted bcrypt hash of secret.
func (p *Provider) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches a HashSecret output.
func (p *Provider) VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// DummyVerify spends the same work as a real VerifySecret so that lookups which miss take
// as long as lookups which hit.
func (p *Provider) DummyVerify(secret string) {
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(secret))
}

// Hash returns the lowercase hex SHA-256 of s. Used for lookup keys, never for passwords.
func Hash(s string) string {
	return internal.SHA256Hex(s)
}

// HashBytes is Hash for raw input.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	return internal.RandomBytes(n)
}
