package tokenauth

import (
	"errors"
	"time"

	"github.com/aivle-project/tokenauth/jwt"
)

// Config is the engine configuration. Build it with [DefaultConfig], adjust
// fields, and hand it to [Builder.WithConfig]; it is cloned there and never
// mutated afterwards.
type Config struct {
	JWT          JWTConfig
	LoginAttempt LoginAttemptConfig
	RateLimit    RateLimitConfig
	Password     PasswordConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and the refresh-token lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
LOGIN ATTEMPT CONFIG
====================================
*/

// LoginAttemptConfig controls the per-identity lockout.
type LoginAttemptConfig struct {
	MaxFailures   int
	LockDuration  time.Duration
	FailureWindow time.Duration
}

// RateLimitConfig controls per-IP throttling of login and refresh. Both are
// off by default.
type RateLimitConfig struct {
	EnableLoginThrottle   bool
	MaxLoginPerIP         int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshPerIP       int
	RefreshWindow         time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters and length policy for new hashes.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Signing keys must still be
// supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    14 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodEd25519),
		},
		LoginAttempt: LoginAttemptConfig{
			MaxFailures:   5,
			LockDuration:  15 * time.Minute,
			FailureWindow: 15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxLoginPerIP:   50,
			LoginWindow:     time.Minute,
			MaxRefreshPerIP: 120,
			RefreshWindow:   time.Minute,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MinPasswordBytes: 8,
			MaxPasswordBytes: 1024,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
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

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Login attempts
	if c.LoginAttempt.MaxFailures <= 0 {
		return errors.New("LoginAttempt MaxFailures must be > 0")
	}
	if c.LoginAttempt.LockDuration <= 0 {
		return errors.New("LoginAttempt LockDuration must be > 0")
	}
	if c.LoginAttempt.FailureWindow <= 0 {
		return errors.New("LoginAttempt FailureWindow must be > 0")
	}

	// Rate limits
	if c.RateLimit.EnableLoginThrottle && (c.RateLimit.MaxLoginPerIP <= 0 || c.RateLimit.LoginWindow <= 0) {
		return errors.New("RateLimit login throttle requires MaxLoginPerIP and LoginWindow > 0")
	}
	if c.RateLimit.EnableRefreshThrottle && (c.RateLimit.MaxRefreshPerIP <= 0 || c.RateLimit.RefreshWindow <= 0) {
		return errors.New("RateLimit refresh throttle requires MaxRefreshPerIP and RefreshWindow > 0")
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
	if c.Password.MaxPasswordBytes > 0 && c.Password.MinPasswordBytes > c.Password.MaxPasswordBytes {
		return errors.New("Password MinPasswordBytes must be <= MaxPasswordBytes")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
