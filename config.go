package deskauth

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/MrEthical07/deskauth/jwt"
)

// Config holds every engine setting. Start from [DefaultConfig] and override
// what you need; [Builder.Build] validates the result.
type Config struct {
	JWT     JWTConfig
	Lockout LockoutConfig
	Locking LockingConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and refresh-token lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the login failure tracker.
type LockoutConfig struct {
	MaxFailures int
	Window      time.Duration
}

/*
====================================
LOCKING CONFIG
====================================
*/

// LockingConfig controls distributed lock lifetimes. A lock is released when
// its operation finishes; the TTL only bounds how long a crashed holder can
// block others.
type LockingConfig struct {
	LoginLockTTL   time.Duration
	RefreshLockTTL time.Duration
}

/*
====================================
AUDIT / METRICS
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. Signing keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "deskauth",
		},
		Lockout: LockoutConfig{
			MaxFailures: 5,
			Window:      15 * time.Minute,
		},
		Locking: LockingConfig{
			LoginLockTTL:   5 * time.Second,
			RefreshLockTTL: 5 * time.Second,
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
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = maps.Clone(cfg.JWT.VerifyKeys)
		for kid, key := range out.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
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

// Validate reports the first invalid setting. Key material is checked again,
// in more depth, when the JWT manager is built.
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
	if c.JWT.Issuer == "" {
		return errors.New("JWT Issuer must be set")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < jwt.MinHMACKeySize {
			return fmt.Errorf("hs256 requires a PrivateKey of at least %d bytes", jwt.MinHMACKeySize)
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Lockout
	if c.Lockout.MaxFailures <= 0 {
		return errors.New("Lockout MaxFailures must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	// Locking
	if c.Locking.LoginLockTTL <= 0 {
		return errors.New("Locking LoginLockTTL must be > 0")
	}
	if c.Locking.RefreshLockTTL <= 0 {
		return errors.New("Locking RefreshLockTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	return nil
}
