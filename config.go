package authcore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// set at least the two signing secrets.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	Lockout   LockoutConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. With hs256 the access and refresh
// secrets must each be at least 32 bytes and must differ.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	AccessSecret  []byte
	RefreshSecret []byte
	// Ed25519 key material, used only with SigningMethod "ed25519".
	AccessPrivateKey  []byte
	AccessPublicKey   []byte
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte
	Issuer            string
	Audience          string
	Leeway            time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	DefaultTTL    time.Duration
	RememberMeTTL time.Duration
	// MaxPerUser caps live sessions per user; negative disables the cap.
	MaxPerUser      int
	TouchOnValidate bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Algorithm  string // "bcrypt" (default) or "argon2id"
	BcryptCost int
	Argon2     password.Argon2Config
	MinLength  int
	MaxBytes   int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

type RateLimitConfig struct {
	EnableIPThrottle      bool
	MaxLoginPerIP         int
	LoginWindow           time.Duration
	MaxRegisterPerIP      int
	RegisterWindow        time.Duration
	EnableRefreshThrottle bool
	MaxRefreshPerSession  int
	RefreshWindow         time.Duration
}

/*
====================================
STORE / AUDIT / METRICS CONFIG
====================================
*/

type StoreConfig struct {
	// OpTimeout bounds every key-value operation.
	OpTimeout time.Duration
	// ProbeTimeout bounds the startup connectivity probe.
	ProbeTimeout time.Duration
	// UserStoreTimeout bounds every UserStore call.
	UserStoreTimeout time.Duration
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

// DefaultConfig returns production defaults without signing secrets.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "authcore",
			Audience:      "authcore-api",
		},
		Session: SessionConfig{
			DefaultTTL:      24 * time.Hour,
			RememberMeTTL:   30 * 24 * time.Hour,
			MaxPerUser:      5,
			TouchOnValidate: true,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		Password: PasswordConfig{
			Algorithm:  "bcrypt",
			BcryptCost: password.DefaultBcryptCost,
			Argon2:     password.DefaultArgon2Config(),
			MinLength:  8,
			MaxBytes:   72,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:      false,
			MaxLoginPerIP:         50,
			LoginWindow:           15 * time.Minute,
			MaxRegisterPerIP:      10,
			RegisterWindow:        time.Hour,
			EnableRefreshThrottle: true,
			MaxRefreshPerSession:  20,
			RefreshWindow:         time.Minute,
		},
		Store: StoreConfig{
			OpTimeout:        3 * time.Second,
			ProbeTimeout:     2 * time.Second,
			UserStoreTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.JWT.AccessPrivateKey = cloneBytes(cfg.JWT.AccessPrivateKey)
	out.JWT.AccessPublicKey = cloneBytes(cfg.JWT.AccessPublicKey)
	out.JWT.RefreshPrivateKey = cloneBytes(cfg.JWT.RefreshPrivateKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
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
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.AccessSecret) < jwt.MinSecretBytes {
			return fmt.Errorf("JWT AccessSecret must be at least %d bytes", jwt.MinSecretBytes)
		}
		if len(c.JWT.RefreshSecret) < jwt.MinSecretBytes {
			return fmt.Errorf("JWT RefreshSecret must be at least %d bytes", jwt.MinSecretBytes)
		}
		if bytes.Equal(c.JWT.AccessSecret, c.JWT.RefreshSecret) {
			return errors.New("JWT AccessSecret and RefreshSecret must differ")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.AccessPrivateKey) == 0 || len(c.JWT.AccessPublicKey) == 0 {
			return errors.New("ed25519 requires AccessPrivateKey and AccessPublicKey")
		}
		if len(c.JWT.RefreshPrivateKey) == 0 || len(c.JWT.RefreshPublicKey) == 0 {
			return errors.New("ed25519 requires RefreshPrivateKey and RefreshPublicKey")
		}
		if bytes.Equal(c.JWT.AccessPrivateKey, c.JWT.RefreshPrivateKey) {
			return errors.New("JWT access and refresh keys must differ")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if c.Session.DefaultTTL <= 0 {
		return errors.New("Session DefaultTTL must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.DefaultTTL {
		return errors.New("Session RememberMeTTL must be >= DefaultTTL")
	}
	if c.Session.MaxPerUser == 0 {
		return errors.New("Session MaxPerUser must be non-zero (negative disables the cap)")
	}

	// Lockout
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Password
	switch c.Password.Algorithm {
	case "bcrypt":
		if c.Password.BcryptCost < password.MinBcryptCost {
			return fmt.Errorf("Password BcryptCost must be >= %d", password.MinBcryptCost)
		}
	case "argon2id":
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}
	if c.Password.Algorithm == "bcrypt" && c.Password.MaxBytes > 72 {
		return errors.New("Password MaxBytes must be <= 72 with bcrypt")
	}

	// Rate limits
	if c.RateLimit.EnableIPThrottle {
		if c.RateLimit.MaxLoginPerIP <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit login throttle requires MaxLoginPerIP and LoginWindow > 0")
		}
		if c.RateLimit.MaxRegisterPerIP <= 0 || c.RateLimit.RegisterWindow <= 0 {
			return errors.New("RateLimit register throttle requires MaxRegisterPerIP and RegisterWindow > 0")
		}
	}
	if c.RateLimit.EnableRefreshThrottle {
		if c.RateLimit.MaxRefreshPerSession <= 0 || c.RateLimit.RefreshWindow <= 0 {
			return errors.New("RateLimit refresh throttle requires MaxRefreshPerSession and RefreshWindow > 0")
		}
	}

	// Store
	if c.Store.OpTimeout <= 0 || c.Store.ProbeTimeout <= 0 || c.Store.UserStoreTimeout <= 0 {
		return errors.New("Store timeouts must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
