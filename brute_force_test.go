package authflow

import (
	"context"
	"testing"
	"time"
)

func newTestGuard(t *testing.T) (*bruteForceGuard, *fakePrincipals, *recordingMailer) {
	t.Helper()

	principals := newFakePrincipals()
	mailer := &recordingMailer{}
	guard := newBruteForceGuard(BruteForceConfig{
		WarningCeiling: 3,
		CaptchaCeiling: 2,
		FailureDelay:   time.Second,
	}, principals, mailer, NewMetrics(MetricsConfig{}))
	guard.sleep = func(time.Duration) {}
	return guard, principals, mailer
}

func TestGuardRecordFailurePersistsCounter(t *testing.T) {
	guard, principals, _ := newTestGuard(t)

	p := &Principal{ID: "u1", Email: "alice@example.com"}
	principals.add(p)

	guard.RecordFailure(context.Background(), p, GrantPassword, false, true)
	if p.FailedLoginCount != 1 {
		t.Fatalf("expected counter 1, got %d", p.FailedLoginCount)
	}
	if p.LastFailedLoginAt.IsZero() {
		t.Fatal("expected failure timestamp")
	}
	if got := principals.get(p.Email).FailedLoginCount; got != 1 {
		t.Fatalf("expected persisted counter 1, got %d", got)
	}
}

func TestGuardWarningFiresOnlyAtExactCeiling(t *testing.T) {
	guard, principals, mailer := newTestGuard(t)

	p := &Principal{ID: "u1", Email: "alice@example.com"}
	principals.add(p)

	for i := 0; i < 5; i++ {
		guard.RecordFailure(context.Background(), p, GrantPassword, false, true)
	}
	if got := mailer.failedLoginCount(); got != 1 {
		t.Fatalf("expected one warning across five failures, got %d", got)
	}
}

func TestGuardWarningSelectsStageEmail(t *testing.T) {
	guard, principals, mailer := newTestGuard(t)

	p := &Principal{ID: "u1", Email: "alice@example.com", FailedLoginCount: 2}
	principals.add(p)

	guard.RecordFailure(context.Background(), p, GrantPassword, true, true)
	if mailer.failedTwoFactorCount() != 1 || mailer.failedLoginCount() != 0 {
		t.Fatal("expected the two-factor warning variant")
	}
}

func TestGuardWarningSkippedForKnownDevice(t *testing.T) {
	guard, principals, mailer := newTestGuard(t)

	p := &Principal{ID: "u1", Email: "alice@example.com", FailedLoginCount: 2}
	principals.add(p)

	guard.RecordFailure(context.Background(), p, GrantPassword, false, false)
	if mailer.failedLoginCount() != 0 {
		t.Fatal("known-device failure must not warn")
	}
}

func TestGuardResetSkipsWriteWhenZero(t *testing.T) {
	guard, principals, _ := newTestGuard(t)

	p := &Principal{ID: "u1", Email: "alice@example.com"}
	principals.add(p)

	guard.Reset(context.Background(), p)
	if principals.updates != 0 {
		t.Fatal("reset of a zero counter must not write")
	}

	p.FailedLoginCount = 4
	guard.Reset(context.Background(), p)
	if p.FailedLoginCount != 0 {
		t.Fatalf("expected counter 0, got %d", p.FailedLoginCount)
	}
	if principals.updates != 1 {
		t.Fatalf("expected one write, got %d", principals.updates)
	}
}

func TestGuardRequiresCaptcha(t *testing.T) {
	guard, _, _ := newTestGuard(t)

	if guard.RequiresCaptcha(&Principal{FailedLoginCount: 1}) {
		t.Fatal("below ceiling must not require captcha")
	}
	if !guard.RequiresCaptcha(&Principal{FailedLoginCount: 2}) {
		t.Fatal("at ceiling must require captcha")
	}

	guard.cfg.CaptchaCeiling = 0
	if guard.RequiresCaptcha(&Principal{FailedLoginCount: 100}) {
		t.Fatal("zero ceiling disables the captcha demand")
	}
}

func TestGuardDelayUsesConfiguredDuration(t *testing.T) {
	guard, _, _ := newTestGuard(t)

	var slept time.Duration
	guard.sleep = func(d time.Duration) { slept = d }

	guard.Delay()
	if slept != time.Second {
		t.Fatalf("expected 1s delay, got %v", slept)
	}
}
