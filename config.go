package authflow

import (
	"errors"
	"time"
)

// Config defines the engine's tuning surface. It is passed to
// [Builder.WithConfig], cloned and validated at Build, and treated as
// immutable afterwards. There is no ambient or global configuration state.
type Config struct {
	TwoFactor    TwoFactorConfig
	BruteForce   BruteForceConfig
	Device       DeviceConfig
	SSO          SSOConfig
	Remember     RememberConfig
	Captcha      CaptchaConfig
	AbilityCache AbilityCacheConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

// TwoFactorConfig tunes second-factor challenge behavior.
type TwoFactorConfig struct {
	// EmailCodeDigits is the length of the one-time email code.
	EmailCodeDigits int
	// EmailCodeTTL is how long an issued email code stays redeemable.
	EmailCodeTTL time.Duration
	// RedisPrefix namespaces email code keys.
	RedisPrefix string
}

/*
====================================
BRUTE FORCE CONFIG
====================================
*/

// BruteForceConfig tunes the failed-attempt guard.
type BruteForceConfig struct {
	// WarningCeiling is the consecutive-failure count at which, when the
	// attempt also came from an unknown device, exactly one warning email is
	// sent. The comparison is equality, not >=, so the warning fires once per
	// escalation window.
	WarningCeiling int
	// CaptchaCeiling is the consecutive-failure count at or beyond which a
	// solved CAPTCHA must accompany the attempt.
	CaptchaCeiling int
	// FailureDelay is the fixed pause imposed on every rejection path. It
	// equalizes timing between unknown-principal, bad-password, and bad-code
	// failures and slows credential stuffing.
	FailureDelay time.Duration
}

/*
====================================
DEVICE CONFIG
====================================
*/

// DeviceConfig tunes device identity resolution.
type DeviceConfig struct {
	// NewDeviceGraceWindow suppresses the new-device email for accounts
	// younger than this, so onboarding across several clients does not spam
	// the principal.
	NewDeviceGraceWindow time.Duration
	// NotifyNewDevice enables the first-sighting email entirely.
	NotifyNewDevice bool
}

// SSOConfig tunes organization SSO mandate enforcement.
type SSOConfig struct {
	// Enforce gates the whole policy check. Disabled deployments skip the
	// membership scan.
	Enforce bool
}

// RememberConfig tunes remember-token issuance and verification.
type RememberConfig struct {
	Enabled bool
	// TTL bounds how long a remember token substitutes for a fresh challenge.
	TTL time.Duration
	// SigningKey is the HMAC key for remember tokens. Required when Enabled.
	SigningKey []byte
}

// CaptchaConfig tunes interpretation of the externally-computed bot verdict.
type CaptchaConfig struct {
	// ScoreThreshold flags the attempt as a bot when the supplied score
	// meets or exceeds it. Zero disables score evaluation; the explicit
	// IsBot flag is always honored.
	ScoreThreshold float64
}

// AbilityCacheConfig tunes the organization ability snapshot cache.
type AbilityCacheConfig struct {
	// TTL bounds snapshot staleness. Policy reads tolerate a stale snapshot
	// within this window.
	TTL time.Duration
	// RedisPrefix namespaces ability snapshot keys.
	RedisPrefix string
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig tunes the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Deployments enabling
// remember tokens must still supply a signing key.
func DefaultConfig() Config {
	return Config{
		TwoFactor: TwoFactorConfig{
			EmailCodeDigits: 6,
			EmailCodeTTL:    5 * time.Minute,
			RedisPrefix:     "af2e",
		},
		BruteForce: BruteForceConfig{
			WarningCeiling: 9,
			CaptchaCeiling: 5,
			FailureDelay:   2 * time.Second,
		},
		Device: DeviceConfig{
			NewDeviceGraceWindow: 10 * time.Minute,
			NotifyNewDevice:      true,
		},
		SSO: SSOConfig{
			Enforce: true,
		},
		Remember: RememberConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Captcha: CaptchaConfig{
			ScoreThreshold: 0,
		},
		AbilityCache: AbilityCacheConfig{
			TTL:         10 * time.Minute,
			RedisPrefix: "afoa",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Remember.SigningKey = cloneBytes(cfg.Remember.SigningKey)
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

// Validate checks the configuration for internal consistency. Build calls it;
// callers may invoke it early to fail fast.
func (c *Config) Validate() error {
	if c.TwoFactor.EmailCodeDigits < 6 || c.TwoFactor.EmailCodeDigits > 10 {
		return errors.New("TwoFactor EmailCodeDigits must be between 6 and 10")
	}
	if c.TwoFactor.EmailCodeTTL <= 0 {
		return errors.New("TwoFactor EmailCodeTTL must be > 0")
	}
	if c.TwoFactor.EmailCodeTTL > 15*time.Minute {
		return errors.New("TwoFactor EmailCodeTTL must be <= 15m")
	}
	if c.TwoFactor.RedisPrefix == "" {
		return errors.New("TwoFactor RedisPrefix is required")
	}

	if c.BruteForce.WarningCeiling <= 0 {
		return errors.New("BruteForce WarningCeiling must be > 0")
	}
	if c.BruteForce.CaptchaCeiling < 0 {
		return errors.New("BruteForce CaptchaCeiling must be >= 0")
	}
	if c.BruteForce.FailureDelay < 0 {
		return errors.New("BruteForce FailureDelay must be >= 0")
	}

	if c.Device.NewDeviceGraceWindow < 0 {
		return errors.New("Device NewDeviceGraceWindow must be >= 0")
	}

	if c.Remember.Enabled {
		if c.Remember.TTL <= 0 {
			return errors.New("Remember TTL must be > 0 when remember tokens are enabled")
		}
		if len(c.Remember.SigningKey) < 32 {
			return errors.New("Remember SigningKey must be >= 32 bytes when remember tokens are enabled")
		}
	}

	if c.Captcha.ScoreThreshold < 0 || c.Captcha.ScoreThreshold > 1 {
		return errors.New("Captcha ScoreThreshold must be within [0, 1]")
	}

	if c.AbilityCache.TTL <= 0 {
		return errors.New("AbilityCache TTL must be > 0")
	}
	if c.AbilityCache.RedisPrefix == "" {
		return errors.New("AbilityCache RedisPrefix is required")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
