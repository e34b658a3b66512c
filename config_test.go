package authflow

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remember.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "code digits too short",
			mutate:  func(c *Config) { c.TwoFactor.EmailCodeDigits = 4 },
			wantSub: "EmailCodeDigits",
		},
		{
			name:    "code digits too long",
			mutate:  func(c *Config) { c.TwoFactor.EmailCodeDigits = 12 },
			wantSub: "EmailCodeDigits",
		},
		{
			name:    "code ttl zero",
			mutate:  func(c *Config) { c.TwoFactor.EmailCodeTTL = 0 },
			wantSub: "EmailCodeTTL",
		},
		{
			name:    "code ttl excessive",
			mutate:  func(c *Config) { c.TwoFactor.EmailCodeTTL = time.Hour },
			wantSub: "EmailCodeTTL",
		},
		{
			name:    "missing code prefix",
			mutate:  func(c *Config) { c.TwoFactor.RedisPrefix = "" },
			wantSub: "RedisPrefix",
		},
		{
			name:    "warning ceiling zero",
			mutate:  func(c *Config) { c.BruteForce.WarningCeiling = 0 },
			wantSub: "WarningCeiling",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.BruteForce.FailureDelay = -time.Second },
			wantSub: "FailureDelay",
		},
		{
			name:    "remember without key",
			mutate:  func(c *Config) { c.Remember.SigningKey = nil },
			wantSub: "SigningKey",
		},
		{
			name:    "remember short key",
			mutate:  func(c *Config) { c.Remember.SigningKey = []byte("short") },
			wantSub: "SigningKey",
		},
		{
			name:    "remember without ttl",
			mutate:  func(c *Config) { c.Remember.TTL = 0 },
			wantSub: "Remember TTL",
		},
		{
			name:    "captcha threshold out of range",
			mutate:  func(c *Config) { c.Captcha.ScoreThreshold = 1.5 },
			wantSub: "ScoreThreshold",
		},
		{
			name:    "ability cache ttl zero",
			mutate:  func(c *Config) { c.AbilityCache.TTL = 0 },
			wantSub: "AbilityCache TTL",
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantSub: "BufferSize",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Remember.SigningKey = []byte("0123456789abcdef0123456789abcdef")
			tc.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error mentioning %q, got %q", tc.wantSub, err)
			}
		})
	}
}

func TestRememberDisabledSkipsKeyValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remember.Enabled = false
	cfg.Remember.SigningKey = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled remember must not require a key: %v", err)
	}
}

func TestCloneConfigCopiesSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remember.SigningKey = []byte("0123456789abcdef0123456789abcdef")

	clone := cloneConfig(cfg)
	clone.Remember.SigningKey[0] = 'X'
	if cfg.Remember.SigningKey[0] == 'X' {
		t.Fatal("clone must not alias the signing key")
	}
}

func TestBuilderRejectsMissingDependencies(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	if _, err := New().Build(); err == nil {
		t.Fatal("expected missing redis rejection")
	}

	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected missing principal provider rejection")
	}

	b := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithPrincipalProvider(newFakePrincipals()).
		WithDeviceProvider(newFakeDevices()).
		WithOrganizationProvider(newFakeOrgs()).
		WithMailer(&recordingMailer{})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	// The default password strategy is installed when none was registered.
	if _, ok := engine.strategies[GrantPassword]; !ok {
		t.Fatal("expected default password strategy")
	}

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to be rejected")
	}
}
