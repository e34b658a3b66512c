package authflow

import "context"

// twoFactorVerifier dispatches a submitted token to the verifier matching the
// asserted provider kind. It is pure: no counters, no persistence, no delay.
// The engine owns all failure side effects.
type twoFactorVerifier struct {
	codes    CodeVerifier
	duo      DuoVerifier
	webauthn WebAuthnVerifier
	yubikey  YubiKeyVerifier
	emails   *emailCodeStore
	remember *rememberTokens
}

// Verify checks the request's token against the asserted provider. For local
// provider kinds the requirement must actually carry an enabled entry of that
// kind; asserting a provider the requirement never offered fails closed.
// Remember is the exception: it bypasses the provider list entirely and is
// validated against the signed token instead.
func (v *twoFactorVerifier) Verify(ctx context.Context, principal *Principal, requirement *twoFactorRequirement, req *TokenRequest) (bool, error) {
	if req.TwoFactorProvider == ProviderRemember {
		if v.remember == nil {
			return false, nil
		}
		return v.remember.Verify(principal, req.TwoFactorToken, req.Device.Identifier), nil
	}

	entry, ok := requirement.providerFor(req.TwoFactorProvider)
	if !ok || !entry.Enabled {
		return false, nil
	}

	switch req.TwoFactorProvider {
	case ProviderAuthenticator:
		meta, ok := entry.Meta.(AuthenticatorMeta)
		if !ok || v.codes == nil {
			return false, ErrVerifierMissing
		}
		return v.codes.Verify(ctx, meta, req.TwoFactorToken)

	case ProviderEmail:
		return v.emails.Verify(ctx, principal.ID, req.TwoFactorToken)

	case ProviderDuo:
		meta, ok := entry.Meta.(DuoMeta)
		if !ok || v.duo == nil {
			return false, ErrVerifierMissing
		}
		return v.duo.Verify(ctx, meta.Host, principal.Email, req.TwoFactorToken)

	case ProviderOrganizationDuo:
		// The entry only reaches the requirement when the context
		// organization carries an enabled Duo configuration.
		meta, ok := entry.Meta.(DuoMeta)
		if !ok || v.duo == nil {
			return false, ErrVerifierMissing
		}
		return v.duo.Verify(ctx, meta.Host, principal.Email, req.TwoFactorToken)

	case ProviderYubiKey:
		meta, ok := entry.Meta.(YubiKeyMeta)
		if !ok || v.yubikey == nil {
			return false, ErrVerifierMissing
		}
		return v.yubikey.Verify(ctx, meta, req.TwoFactorToken)

	case ProviderWebAuthn:
		if v.webauthn == nil {
			return false, ErrVerifierMissing
		}
		return v.webauthn.Verify(ctx, principal, req.TwoFactorToken)

	default:
		return false, nil
	}
}
