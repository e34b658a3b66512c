package authflow

import (
	"context"
	"log"
	"time"
)

// bruteForceGuard tracks consecutive failed attempts on the principal's
// persisted counter. It deliberately performs no locking: the counter is a
// read-modify-write heuristic and concurrent attempts may under- or
// over-count. That imprecision is accepted; the fixed failure delay is the
// primary throttle.
type bruteForceGuard struct {
	cfg        BruteForceConfig
	principals PrincipalProvider
	mailer     Mailer
	metrics    *Metrics
	clock      func() time.Time
	sleep      func(time.Duration)

	// auditWarning records that a warning email went out. Set by the builder;
	// may be nil.
	auditWarning func(ctx context.Context, principalID string, grant GrantType, twoFactorStage bool)
}

func newBruteForceGuard(cfg BruteForceConfig, principals PrincipalProvider, mailer Mailer, metrics *Metrics) *bruteForceGuard {
	return &bruteForceGuard{
		cfg:        cfg,
		principals: principals,
		mailer:     mailer,
		metrics:    metrics,
		clock:      time.Now,
		sleep:      time.Sleep,
	}
}

// RequiresCaptcha reports whether the principal's failure history demands a
// solved CAPTCHA before another attempt is considered.
func (g *bruteForceGuard) RequiresCaptcha(p *Principal) bool {
	if g == nil || g.cfg.CaptchaCeiling <= 0 {
		return false
	}
	return p != nil && p.FailedLoginCount >= g.cfg.CaptchaCeiling
}

// RecordFailure increments the failure counter, stamps the failure time, and
// persists the principal. When the new count lands exactly on the warning
// ceiling and the device was unknown, it sends one warning email, with a
// failed-password or failed-two-factor variant selected by twoFactorStage.
// The equality comparison fires the email once per escalation window instead
// of on every subsequent failure.
func (g *bruteForceGuard) RecordFailure(ctx context.Context, p *Principal, grant GrantType, twoFactorStage, deviceUnknown bool) {
	if g == nil || p == nil {
		return
	}

	p.FailedLoginCount++
	p.LastFailedLoginAt = g.clock().UTC()

	if err := g.principals.Update(ctx, p); err != nil {
		log.Print("authflow: failed-login counter persist failed")
	}

	if p.FailedLoginCount != g.cfg.WarningCeiling || !deviceUnknown {
		return
	}
	if g.mailer == nil {
		return
	}

	var err error
	if twoFactorStage {
		err = g.mailer.SendFailedTwoFactorAttempts(ctx, p.Email, p.LastFailedLoginAt)
		g.metrics.Inc(MetricFailedTwoFactorWarning)
	} else {
		err = g.mailer.SendFailedLoginAttempts(ctx, p.Email, p.LastFailedLoginAt)
		g.metrics.Inc(MetricFailedLoginWarning)
	}
	if err != nil {
		log.Print("authflow: brute-force warning email failed")
		return
	}
	if g.auditWarning != nil {
		g.auditWarning(ctx, p.ID, grant, twoFactorStage)
	}
}

// Reset clears the failure counter after a successful authentication. When
// the counter is already zero the write is skipped entirely, keeping the
// common case free of a persistence round-trip.
func (g *bruteForceGuard) Reset(ctx context.Context, p *Principal) {
	if g == nil || p == nil || p.FailedLoginCount == 0 {
		return
	}

	p.FailedLoginCount = 0
	if err := g.principals.Update(ctx, p); err != nil {
		log.Print("authflow: failed-login counter reset failed")
	}
}

// Delay imposes the fixed rejection pause. Every rejection path calls it so
// unknown-principal, bad-password, and bad-code failures are timing-uniform.
func (g *bruteForceGuard) Delay() {
	if g == nil || g.cfg.FailureDelay <= 0 {
		return
	}
	g.sleep(g.cfg.FailureDelay)
}
