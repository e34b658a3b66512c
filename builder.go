package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultik/authflow/password"
)

// Builder assembles an [Engine]. Configure it with the With* methods, then
// call Build exactly once. Builders are intended for initialization and are
// not safe for concurrent use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals PrincipalProvider
	devices    DeviceProvider
	orgs       OrganizationProvider
	mailer     Mailer

	strategies []CredentialStrategy

	codes    CodeVerifier
	duo      DuoVerifier
	webauthn WebAuthnVerifier
	yubikey  YubiKeyVerifier

	auditSink AuditSink

	built bool
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the email code store and the
// organization ability cache. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalProvider sets the principal persistence boundary. Required.
func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.principals = p
	return b
}

// WithDeviceProvider sets the device persistence boundary. Required.
func (b *Builder) WithDeviceProvider(p DeviceProvider) *Builder {
	b.devices = p
	return b
}

// WithOrganizationProvider sets the organization read boundary. Required.
func (b *Builder) WithOrganizationProvider(p OrganizationProvider) *Builder {
	b.orgs = p
	return b
}

// WithMailer sets the security notification mailer. Required.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithCredentialStrategy registers a strategy for its grant type. A later
// registration for the same grant type replaces the earlier one. When no
// strategy is registered for [GrantPassword], Build installs the default
// Argon2id strategy.
func (b *Builder) WithCredentialStrategy(s CredentialStrategy) *Builder {
	b.strategies = append(b.strategies, s)
	return b
}

// WithCodeVerifier overrides the default TOTP verifier.
func (b *Builder) WithCodeVerifier(v CodeVerifier) *Builder {
	b.codes = v
	return b
}

// WithDuoVerifier sets the external Duo capability. Without one, Duo and
// OrganizationDuo tokens fail closed.
func (b *Builder) WithDuoVerifier(v DuoVerifier) *Builder {
	b.duo = v
	return b
}

// WithWebAuthnVerifier sets the external WebAuthn capability. Without one,
// WebAuthn tokens fail closed.
func (b *Builder) WithWebAuthnVerifier(v WebAuthnVerifier) *Builder {
	b.webauthn = v
	return b
}

// WithYubiKeyVerifier sets the external YubiKey OTP capability. Without one,
// YubiKey tokens fail closed.
func (b *Builder) WithYubiKeyVerifier(v YubiKeyVerifier) *Builder {
	b.yubikey = v
	return b
}

// WithAuditSink sets the destination for audit events and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency observation on top of counters.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies and assembles the
// engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal provider required")
	}
	if b.devices == nil {
		return nil, errors.New("device provider required")
	}
	if b.orgs == nil {
		return nil, errors.New("organization provider required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	strategies := make(map[GrantType]CredentialStrategy, len(b.strategies)+1)
	for _, s := range b.strategies {
		if s == nil {
			return nil, errors.New("nil credential strategy")
		}
		strategies[s.GrantType()] = s
	}
	if _, ok := strategies[GrantPassword]; !ok {
		def, err := NewPasswordStrategy(password.Config{})
		if err != nil {
			return nil, err
		}
		strategies[GrantPassword] = def
	}

	codes := b.codes
	if codes == nil {
		codes = NewTOTPVerifier()
	}

	engine := &Engine{
		config:     cfg,
		principals: b.principals,
		devices:    b.devices,
		orgs:       b.orgs,
		mailer:     b.mailer,
		strategies: strategies,
		duo:        b.duo,
		webauthn:   b.webauthn,
		clock:      time.Now,
	}

	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.abilities = newAbilityCache(cfg.AbilityCache, b.redis, b.orgs)
	engine.emails = newEmailCodeStore(cfg.TwoFactor, b.redis)
	engine.remember = newRememberTokens(cfg.Remember)
	engine.resolver = newDeviceResolver(cfg.Device, b.devices)
	engine.guard = newBruteForceGuard(cfg.BruteForce, b.principals, b.mailer, engine.metrics)
	engine.guard.auditWarning = func(ctx context.Context, principalID string, grant GrantType, twoFactorStage bool) {
		engine.emitAudit(ctx, auditEventBruteForceWarning, true, principalID, grant, nil, func() map[string]string {
			return map[string]string{"two_factor_stage": fmt.Sprint(twoFactorStage)}
		})
	}
	engine.policy = newTwoFactorPolicy(engine.abilities, b.orgs)
	engine.sso = newSsoPolicyEnforcer(cfg.SSO, engine.abilities)
	engine.verifier = &twoFactorVerifier{
		codes:    codes,
		duo:      b.duo,
		webauthn: b.webauthn,
		yubikey:  b.yubikey,
		emails:   engine.emails,
		remember: engine.remember,
	}

	b.built = true

	return engine, nil
}
