package goCred

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goCred/apikey"
	"github.com/MrEthical07/goCred/jwt"
	"golang.org/x/crypto/bcrypt"
)

// Config defines a public type used by goCred APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token    TokenConfig
	Refresh  RefreshConfig
	APIKey   APIKeyConfig
	Password PasswordConfig
	Lockout  LockoutConfig
	Cleanup  CleanupConfig
	Crypto   CryptoConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Cache    CacheConfig
	Store    StoreConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access token issuance and verification.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default), "ed25519" optional
	// SigningKey is the HMAC secret for hs256 or the Ed25519 private key.
	SigningKey []byte
	// PublicKey is the Ed25519 public key. Unused for hs256.
	PublicKey []byte
	KeyID     string
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// EncryptAccessTokens wraps signed tokens in AES-GCM so claims are opaque to clients.
	EncryptAccessTokens bool
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls refresh token lifetime and rotation families.
type RefreshConfig struct {
	TTL time.Duration
	// MaxFamilySize caps unrevoked tokens per family. Zero disables the cap.
	MaxFamilySize int
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig controls API key generation defaults.
type APIKeyConfig struct {
	// Tag is the leading key segment, lowercase alphanumerics.
	Tag                  string
	DefaultScopes        []string
	DefaultRateLimitHour int
	DefaultRateLimitDay  int
	DefaultEnvironment   string
	MaxNameLength        int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls hashing parameters, the strength policy and history depth.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int

	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool

	// HistorySize is how many previous hashes CheckPasswordHistory compares against.
	HistorySize int
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-authentication lockouts.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
	// Window restarts the failure counter when the previous failure is older.
	Window time.Duration
}

/*
====================================
CLEANUP CONFIG
====================================
*/

// CleanupConfig controls the background sweep.
type CleanupConfig struct {
	Interval                time.Duration
	BatchSize               int
	BatchesPerSecond        float64
	RefreshRevokedRetention time.Duration
	UsageRetention          time.Duration
	LockoutRetention        time.Duration
}

/*
====================================
CRYPTO CONFIG
====================================
*/

// CryptoConfig holds the key material for symmetric encryption and secret hashing.
type CryptoConfig struct {
	MasterKey  []byte
	Salt       []byte
	BcryptCost int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls asynchronous security event delivery.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig controls the API key record cache.
type CacheConfig struct {
	APIKeyLRUEnabled bool
	Size             int
	TTL              time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the built-in Redis store used by Builder.WithRedis.
type StoreConfig struct {
	RedisPrefix string
}

// DefaultConfig returns the configuration Build starts from when WithConfig is not used.
// Key material is left empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "gocred",
			Leeway:        30 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL:           7 * 24 * time.Hour,
			MaxFamilySize: 50,
		},
		APIKey: APIKeyConfig{
			Tag:                  "gc",
			DefaultScopes:        []string{ScopeReadOnly},
			DefaultRateLimitHour: 1000,
			DefaultRateLimitDay:  10000,
			DefaultEnvironment:   "production",
			MaxNameLength:        100,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      12,
			MaxLength:      128,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
			HistorySize:    5,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  30 * time.Minute,
			Window:    15 * time.Minute,
		},
		Cleanup: CleanupConfig{
			Interval:                time.Hour,
			BatchSize:               500,
			BatchesPerSecond:        10,
			RefreshRevokedRetention: 7 * 24 * time.Hour,
			UsageRetention:          30 * 24 * time.Hour,
			LockoutRetention:        24 * time.Hour,
		},
		Crypto: CryptoConfig{
			BcryptCost: bcrypt.DefaultCost + 2,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{},
		Cache: CacheConfig{
			APIKeyLRUEnabled: false,
			Size:             1024,
			TTL:              30 * time.Second,
		},
		Store: StoreConfig{
			RedisPrefix: "gocred",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Crypto.MasterKey = cloneBytes(cfg.Crypto.MasterKey)
	out.Crypto.Salt = cloneBytes(cfg.Crypto.Salt)
	out.APIKey.DefaultScopes = append([]string(nil), cfg.APIKey.DefaultScopes...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting in c.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	switch jwt.SigningMethod(c.Token.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.Token.SigningKey) < 32 {
			return errors.New("hs256 requires SigningKey of at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.Token.SigningKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires SigningKey and PublicKey")
		}
	default:
		return errors.New("unsupported Token SigningMethod")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 5*time.Minute {
		return errors.New("Token Leeway must be between 0 and 5m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.Token.AccessTTL {
		return errors.New("Refresh TTL must be longer than Token AccessTTL")
	}
	if c.Refresh.MaxFamilySize < 0 {
		return errors.New("Refresh MaxFamilySize must be >= 0")
	}

	// API keys
	if !apikey.ValidTag(c.APIKey.Tag) {
		return errors.New("APIKey Tag must be 1-16 lowercase alphanumerics")
	}
	if len(c.APIKey.DefaultScopes) == 0 {
		return errors.New("APIKey DefaultScopes must not be empty")
	}
	for _, s := range c.APIKey.DefaultScopes {
		if strings.TrimSpace(s) == "" {
			return errors.New("APIKey DefaultScopes contains an empty scope")
		}
	}
	if c.APIKey.DefaultRateLimitHour <= 0 || c.APIKey.DefaultRateLimitDay <= 0 {
		return errors.New("APIKey default rate limits must be > 0")
	}
	if c.APIKey.DefaultRateLimitDay < c.APIKey.DefaultRateLimitHour {
		return errors.New("APIKey DefaultRateLimitDay must be >= DefaultRateLimitHour")
	}
	if c.APIKey.MaxNameLength <= 0 {
		return errors.New("APIKey MaxNameLength must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 10 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MinLength must be >= 10 and <= MaxLength")
	}
	if c.Password.HistorySize < 0 {
		return errors.New("Password HistorySize must be >= 0")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout Window must be > 0")
		}
	}

	// Cleanup
	if c.Cleanup.Interval <= 0 {
		return errors.New("Cleanup Interval must be > 0")
	}
	if c.Cleanup.BatchSize <= 0 {
		return errors.New("Cleanup BatchSize must be > 0")
	}
	if c.Cleanup.BatchesPerSecond <= 0 {
		return errors.New("Cleanup BatchesPerSecond must be > 0")
	}
	if c.Cleanup.RefreshRevokedRetention < 0 || c.Cleanup.UsageRetention < 24*time.Hour || c.Cleanup.LockoutRetention < 0 {
		return errors.New("Cleanup retention windows are invalid")
	}

	// Crypto
	if len(c.Crypto.MasterKey) < 32 {
		return errors.New("Crypto MasterKey must be at least 32 bytes")
	}
	if c.Crypto.BcryptCost != 0 && (c.Crypto.BcryptCost < bcrypt.MinCost || c.Crypto.BcryptCost > bcrypt.MaxCost) {
		return errors.New("Crypto BcryptCost is out of range")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Cache
	if c.Cache.APIKeyLRUEnabled {
		if c.Cache.Size <= 0 {
			return errors.New("Cache Size must be > 0 when APIKeyLRUEnabled is true")
		}
		if c.Cache.TTL <= 0 {
			return errors.New("Cache TTL must be > 0 when APIKeyLRUEnabled is true")
		}
	}

	if strings.TrimSpace(c.Store.RedisPrefix) == "" {
		return errors.New("Store RedisPrefix must not be empty")
	}

	return nil
}
