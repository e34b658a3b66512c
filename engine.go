package authflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/vaultik/authflow/internal"
)

// Engine runs the credential validation pipeline. Build one with [Builder];
// a zero Engine is not usable. All methods are safe for concurrent use.
type Engine struct {
	config Config

	principals PrincipalProvider
	devices    DeviceProvider
	orgs       OrganizationProvider
	mailer     Mailer

	strategies map[GrantType]CredentialStrategy

	duo      DuoVerifier
	webauthn WebAuthnVerifier

	policy    *twoFactorPolicy
	verifier  *twoFactorVerifier
	sso       *ssoPolicyEnforcer
	guard     *bruteForceGuard
	resolver  *deviceResolver
	emails    *emailCodeStore
	abilities *abilityCache
	remember  *rememberTokens

	audit   *auditDispatcher
	metrics *Metrics
	clock   func() time.Time
}

// Metrics returns the engine's metrics system for scraping.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close returns.
func (e *Engine) Close() {
	if e.audit != nil {
		e.audit.Close()
	}
}

// RefreshOrganizationAbility rebuilds the cached policy snapshot for one
// organization. Call it after mutating organization policy so the pipeline
// sees the change before the cache TTL elapses.
func (e *Engine) RefreshOrganizationAbility(ctx context.Context, organizationID string) error {
	if e == nil || e.abilities == nil {
		return ErrEngineNotReady
	}
	_, err := e.abilities.Refresh(ctx, organizationID)
	return err
}

// Authenticate runs one token request through the full pipeline and returns
// a terminal result. The error return is reserved for infrastructure faults
// (backend unavailable, unknown grant type); every policy rejection comes
// back as a non-nil result with a generic message.
func (e *Engine) Authenticate(ctx context.Context, req *TokenRequest) (*AuthResult, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}
	if req == nil {
		return nil, errors.New("nil token request")
	}

	start := e.clock()
	result, err := e.authenticate(ctx, req)
	if err == nil {
		e.metrics.Observe(MetricAuthenticateLatency, e.clock().Sub(start))
	}
	return result, err
}

func (e *Engine) authenticate(ctx context.Context, req *TokenRequest) (*AuthResult, error) {
	strategy, ok := e.strategies[req.GrantType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGrantType, req.GrantType)
	}

	// The externally-computed bot verdict is evaluated up front but rejected
	// only after the principal is loaded, so the failure counter still
	// advances and bot-flagged traffic drives CAPTCHA escalation and the
	// warning email like any other failed attempt.
	botFlagged := req.IsBot || (e.config.Captcha.ScoreThreshold > 0 && req.BotScore >= e.config.Captcha.ScoreThreshold)

	principal, err := e.principals.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrPrincipalNotFound) {
		// Unknown principals get the identical rejection and delay as a bad
		// password, with no counter to increment.
		if botFlagged {
			e.metrics.Inc(MetricBotRejected)
			e.emitAudit(ctx, auditEventBotRejected, false, "", req.GrantType, errBotFlagged, nil)
		} else {
			e.metrics.Inc(MetricAuthFailure)
			e.emitAudit(ctx, auditEventAuthFailure, false, "", req.GrantType, errInvalidCredential, nil)
		}
		e.guard.Delay()
		return errorResult(MsgInvalidCredentials), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrincipalUnavailable, err)
	}

	deviceKnown := e.resolver.IsKnown(ctx, principal.ID, &req.Device)

	if botFlagged {
		e.metrics.Inc(MetricBotRejected)
		e.guard.RecordFailure(ctx, principal, req.GrantType, false, !deviceKnown)
		e.emitAudit(ctx, auditEventBotRejected, false, principal.ID, req.GrantType, errBotFlagged, func() map[string]string {
			return map[string]string{"failed_login_count": fmt.Sprint(principal.FailedLoginCount)}
		})
		e.guard.Delay()
		return errorResult(MsgInvalidCredentials), nil
	}

	// A principal past the CAPTCHA ceiling must present a solved CAPTCHA
	// before the credential is even examined.
	if e.guard.RequiresCaptcha(principal) && req.CaptchaResponse == "" {
		e.metrics.Inc(MetricCaptchaRequired)
		e.emitAudit(ctx, auditEventAuthFailure, false, principal.ID, req.GrantType, errInvalidCredential, func() map[string]string {
			return map[string]string{"captcha_required": "true"}
		})
		e.guard.Delay()
		return errorResult(MsgInvalidCredentials), nil
	}

	valid, err := strategy.Verify(ctx, principal, req)
	if err != nil {
		return nil, err
	}
	if !valid {
		e.metrics.Inc(MetricAuthFailure)
		e.guard.RecordFailure(ctx, principal, req.GrantType, false, !deviceKnown)
		e.emitAudit(ctx, auditEventAuthFailure, false, principal.ID, req.GrantType, errInvalidCredential, func() map[string]string {
			return map[string]string{"failed_login_count": fmt.Sprint(principal.FailedLoginCount)}
		})
		e.guard.Delay()
		return errorResult(MsgInvalidCredentials), nil
	}

	memberships, err := e.orgs.GetMemberships(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrganizationUnavailable, err)
	}

	requirement, err := e.policy.Resolve(ctx, principal, memberships, req.GrantType, deviceKnown)
	if err != nil {
		return nil, err
	}

	twoFactorVerified := false
	if requirement.Required {
		if !req.twoFactorSubmitted() {
			return e.challenge(ctx, principal, requirement, req)
		}

		result, verified, err := e.verifySecondFactor(ctx, principal, requirement, req, deviceKnown)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		twoFactorVerified = verified
	}

	ssoRequired, err := e.sso.RequiresSso(ctx, memberships, req.GrantType)
	if err != nil {
		return nil, err
	}
	if ssoRequired {
		e.metrics.Inc(MetricSsoRequired)
		e.emitAudit(ctx, auditEventSsoRequired, false, principal.ID, req.GrantType, errSsoRequired, nil)
		return &AuthResult{Kind: ResultSsoRequired, Message: MsgSsoRequired}, nil
	}

	device, known, err := e.resolver.Resolve(ctx, principal, &req.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if device == nil && req.GrantType.requiresDevice() {
		e.metrics.Inc(MetricDeviceMissing)
		e.emitAudit(ctx, auditEventDeviceMissing, false, principal.ID, req.GrantType, errDeviceMissing, nil)
		return errorResult(MsgNoDeviceInformation), nil
	}

	if device != nil && !known {
		e.metrics.Inc(MetricNewDeviceSeen)
		e.notifyNewDevice(ctx, principal, device, req.GrantType)
	}

	e.guard.Reset(ctx, principal)

	return e.success(ctx, principal, device, req, requirement, twoFactorVerified)
}

// challenge builds the TwoFactorChallenge result: the ordered provider list
// and per-provider parameters. When email is the only offered provider the
// code is issued and dispatched immediately so the principal does not need a
// second round trip to request it.
func (e *Engine) challenge(ctx context.Context, principal *Principal, requirement *twoFactorRequirement, req *TokenRequest) (*AuthResult, error) {
	providers := make([]ProviderKind, 0, len(requirement.Providers))
	params := make(map[ProviderKind]map[string]any, len(requirement.Providers))

	for _, tp := range requirement.Providers {
		providers = append(providers, tp.Kind)

		switch meta := tp.Meta.(type) {
		case EmailMeta:
			params[tp.Kind] = map[string]any{"Email": internal.RedactEmail(meta.Address)}
		case DuoMeta:
			p := map[string]any{"Host": meta.Host}
			if e.duo != nil {
				if sig, err := e.duo.SignRequest(ctx, meta.Host, principal.Email); err == nil {
					p["Signature"] = sig
				} else {
					log.Print("authflow: duo sign request failed")
				}
			}
			params[tp.Kind] = p
		default:
			if tp.Kind == ProviderWebAuthn && e.webauthn != nil {
				if opts, err := e.webauthn.AssertionOptions(ctx, principal); err == nil {
					params[tp.Kind] = opts
				} else {
					log.Print("authflow: webauthn assertion options failed")
				}
			}
		}
	}

	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	if len(providers) == 1 && providers[0] == ProviderEmail {
		if err := e.dispatchEmailCode(ctx, principal, requirement, req.GrantType); err != nil {
			return nil, err
		}
	}

	e.metrics.Inc(MetricTwoFactorChallenge)
	e.emitAudit(ctx, auditEventTwoFactorChallenge, true, principal.ID, req.GrantType, nil, func() map[string]string {
		return map[string]string{"providers": providerList(providers)}
	})

	return &AuthResult{
		Kind:           ResultTwoFactorChallenge,
		Providers:      providers,
		ProviderParams: params,
	}, nil
}

// dispatchEmailCode issues a fresh single-use code and mails it. The Redis
// write must succeed; the send itself is best-effort so a flaky mailer does
// not turn the challenge into a hard error.
func (e *Engine) dispatchEmailCode(ctx context.Context, principal *Principal, requirement *twoFactorRequirement, grant GrantType) error {
	entry, ok := requirement.providerFor(ProviderEmail)
	if !ok {
		return nil
	}
	meta, ok := entry.Meta.(EmailMeta)
	if !ok {
		return nil
	}

	code, err := e.emails.Issue(ctx, principal.ID)
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricEmailCodeIssued)
	if e.mailer != nil {
		if err := e.mailer.SendTwoFactorCode(ctx, meta.Address, code); err != nil {
			log.Print("authflow: two-factor code email failed")
		}
	}
	e.emitAudit(ctx, auditEventEmailCodeDispatched, true, principal.ID, grant, nil, func() map[string]string {
		return map[string]string{"email": internal.RedactEmail(meta.Address), "forced": fmt.Sprint(requirement.ForcedByUnknownDevice)}
	})
	return nil
}

// verifySecondFactor checks the submitted token. A non-nil result means the
// attempt terminated here; (nil, true, nil) means the factor passed and the
// pipeline continues.
func (e *Engine) verifySecondFactor(ctx context.Context, principal *Principal, requirement *twoFactorRequirement, req *TokenRequest, deviceKnown bool) (*AuthResult, bool, error) {
	ok, err := e.verifier.Verify(ctx, principal, requirement, req)
	if err != nil && !errors.Is(err, ErrVerifierMissing) {
		return nil, false, err
	}
	if errors.Is(err, ErrVerifierMissing) {
		ok = false
	}

	if ok {
		e.metrics.Inc(MetricTwoFactorSuccess)
		e.emitAudit(ctx, auditEventTwoFactorSuccess, true, principal.ID, req.GrantType, nil, func() map[string]string {
			return map[string]string{"provider": req.TwoFactorProvider.String()}
		})
		return nil, true, nil
	}

	if req.TwoFactorProvider == ProviderRemember {
		// An expired or mismatched remember token is not a guess at a code:
		// no counter increment, just a fresh challenge after the delay.
		e.metrics.Inc(MetricRememberRejected)
		e.emitAudit(ctx, auditEventRememberRejected, false, principal.ID, req.GrantType, errTwoFactorInvalid, nil)
		e.guard.Delay()
		challenge, cerr := e.challenge(ctx, principal, requirement, req)
		return challenge, false, cerr
	}

	e.metrics.Inc(MetricTwoFactorFailure)
	e.guard.RecordFailure(ctx, principal, req.GrantType, true, !deviceKnown)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, principal.ID, req.GrantType, errTwoFactorInvalid, func() map[string]string {
		return map[string]string{
			"provider":           req.TwoFactorProvider.String(),
			"failed_login_count": fmt.Sprint(principal.FailedLoginCount),
		}
	})
	e.guard.Delay()
	return errorResult(MsgInvalidTwoFactor), false, nil
}

// notifyNewDevice sends the first-sighting email asynchronously. The login
// result never waits on the mailer.
func (e *Engine) notifyNewDevice(ctx context.Context, principal *Principal, device *Device, grant GrantType) {
	if !e.config.Device.NotifyNewDevice || e.mailer == nil || !e.resolver.pastGraceWindow(principal) {
		return
	}

	e.emitAudit(ctx, auditEventNewDevice, true, principal.ID, grant, nil, func() map[string]string {
		return map[string]string{"device_type": fmt.Sprint(device.Type), "device_name": device.Name}
	})

	email := principal.Email
	at := e.clock().UTC()
	d := *device
	go func() {
		if err := e.mailer.SendNewDeviceLoggedIn(context.Background(), email, &d, at); err != nil {
			log.Print("authflow: new device email failed")
			return
		}
		e.metrics.Inc(MetricNewDeviceEmailSent)
	}()
}

func (e *Engine) success(ctx context.Context, principal *Principal, device *Device, req *TokenRequest, requirement *twoFactorRequirement, twoFactorVerified bool) (*AuthResult, error) {
	result := &AuthResult{
		Kind:        ResultSuccess,
		PrincipalID: principal.ID,
		Claims:      map[string]string{},
		CustomData: map[string]any{
			CustomDataKdf:                 principal.Kdf,
			CustomDataKdfIterations:       principal.KdfIterations,
			CustomDataKey:                 principal.Key,
			CustomDataPrivateKey:          principal.PrivateKey,
			CustomDataForcePasswordReset:  principal.ForcePasswordReset,
			CustomDataResetMasterPassword: principal.ResetMasterPassword,
		},
	}
	if device != nil {
		result.Claims[ClaimDevice] = device.Identifier
	}

	// A remember token is minted only when the principal both passed a real
	// factor this attempt and asked for one, and only for a concrete device.
	if twoFactorVerified && req.TwoFactorRemember && req.TwoFactorProvider != ProviderRemember &&
		e.config.Remember.Enabled && device != nil && !requirement.ForcedByUnknownDevice {
		token, err := e.remember.Issue(principal, device.Identifier)
		if err != nil {
			log.Print("authflow: remember token issue failed")
		} else {
			result.CustomData[CustomDataTwoFactorToken] = token
		}
	}

	e.metrics.Inc(MetricAuthSuccess)
	e.emitAudit(ctx, auditEventAuthSuccess, true, principal.ID, req.GrantType, nil, func() map[string]string {
		m := map[string]string{"two_factor": fmt.Sprint(twoFactorVerified)}
		if device != nil {
			m["device_identifier"] = device.Identifier
		}
		return m
	})

	return result, nil
}

func errorResult(message string) *AuthResult {
	return &AuthResult{Kind: ResultError, Message: message}
}

func providerList(kinds []ProviderKind) string {
	out := ""
	for i, k := range kinds {
		if i > 0 {
			out += ","
		}
		out += k.String()
	}
	return out
}
