package authflow

import "context"

// twoFactorRequirement is the resolved verdict for a single authentication
// attempt: whether a second factor is demanded, which providers may satisfy
// it, and which organization (if any) set the policy.
type twoFactorRequirement struct {
	Required bool
	// ForcedByUnknownDevice marks a requirement that exists only because the
	// principal has no second factor configured and the device was never seen
	// before. The synthetic Email provider it carries is transient and is
	// never written to the principal record.
	ForcedByUnknownDevice bool
	// Organization is set when an organization policy demanded the factor.
	// Only one organization's policy is surfaced per attempt.
	Organization *Organization
	Providers    []TwoFactorProvider
}

// providerFor returns the requirement's provider entry for the given kind.
func (r *twoFactorRequirement) providerFor(kind ProviderKind) (TwoFactorProvider, bool) {
	for _, p := range r.Providers {
		if p.Kind == kind {
			return p, true
		}
	}
	return TwoFactorProvider{}, false
}

// twoFactorPolicy decides whether an otherwise-valid credential still needs a
// second factor, combining the principal's own provider configuration with
// the policies of the organizations they belong to.
type twoFactorPolicy struct {
	abilities *abilityCache
	orgs      OrganizationProvider
}

func newTwoFactorPolicy(abilities *abilityCache, orgs OrganizationProvider) *twoFactorPolicy {
	return &twoFactorPolicy{abilities: abilities, orgs: orgs}
}

// Resolve evaluates the requirement in a fixed precedence: grant exemption,
// then the principal's own providers, then organization policy, then the
// unknown-device fallback. The first layer that demands a factor wins and
// contributes the provider list.
func (p *twoFactorPolicy) Resolve(ctx context.Context, principal *Principal, memberships []OrganizationMembership, grant GrantType, deviceKnown bool) (*twoFactorRequirement, error) {
	if grant.twoFactorExempt() {
		return &twoFactorRequirement{}, nil
	}

	if individual := enabledProviders(principal); len(individual) > 0 {
		req := &twoFactorRequirement{Required: true, Providers: individual}
		// Organization Duo stacks on top of individual providers when an
		// organization with 2FA policy also configures one.
		if org, err := p.policyOrganization(ctx, memberships); err != nil {
			return nil, err
		} else if org != nil {
			req.Organization = org
			if duo, ok := orgDuoProvider(org); ok {
				req.Providers = append(req.Providers, duo)
			}
		}
		return req, nil
	}

	org, err := p.policyOrganization(ctx, memberships)
	if err != nil {
		return nil, err
	}
	if org != nil {
		req := &twoFactorRequirement{Required: true, Organization: org}
		if duo, ok := orgDuoProvider(org); ok {
			req.Providers = append(req.Providers, duo)
		} else {
			// The mandate stands even when the organization never configured
			// Duo. Fall back to a one-time email code so the challenge stays
			// answerable instead of offering zero providers.
			req.Providers = append(req.Providers, TwoFactorProvider{
				Kind:    ProviderEmail,
				Enabled: true,
				Meta:    EmailMeta{Address: principal.Email},
			})
		}
		return req, nil
	}

	if !deviceKnown {
		// No configured factor and a device never seen before: force a
		// one-time email code to the account address. The provider exists
		// only for this attempt.
		return &twoFactorRequirement{
			Required:              true,
			ForcedByUnknownDevice: true,
			Providers: []TwoFactorProvider{{
				Kind:    ProviderEmail,
				Enabled: true,
				Meta:    EmailMeta{Address: principal.Email},
			}},
		}, nil
	}

	return &twoFactorRequirement{}, nil
}

// policyOrganization returns the first enabled membership whose organization
// ability has two-factor policy turned on, resolved to the full organization
// record. Returns nil when no organization imposes the policy.
func (p *twoFactorPolicy) policyOrganization(ctx context.Context, memberships []OrganizationMembership) (*Organization, error) {
	for _, m := range memberships {
		if !m.Enabled {
			continue
		}
		ability, err := p.abilities.Get(ctx, m.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !ability.Enabled || !ability.UseTwoFactor {
			continue
		}
		org, err := p.orgs.GetOrganization(ctx, m.OrganizationID)
		if err != nil {
			return nil, err
		}
		return org, nil
	}
	return nil, nil
}

// enabledProviders returns the principal's usable second factors: enabled
// entries with well-formed metadata. Remember is excluded; it is a bypass
// mechanism, not a challengeable provider.
func enabledProviders(p *Principal) []TwoFactorProvider {
	if p == nil || !p.TwoFactorEnabled {
		return nil
	}
	var out []TwoFactorProvider
	for _, tp := range p.Providers {
		if !tp.Enabled || tp.Kind == ProviderRemember {
			continue
		}
		if !providerMetaValid(tp) {
			continue
		}
		out = append(out, tp)
	}
	return out
}

func providerMetaValid(tp TwoFactorProvider) bool {
	switch meta := tp.Meta.(type) {
	case AuthenticatorMeta:
		return meta.Secret != ""
	case EmailMeta:
		return meta.Address != ""
	case DuoMeta:
		return meta.Host != ""
	case YubiKeyMeta:
		return len(meta.KeyIDs) > 0
	case WebAuthnMeta:
		return len(meta.CredentialIDs) > 0
	default:
		return false
	}
}

// orgDuoProvider extracts an organization's enabled Duo configuration as an
// OrganizationDuo provider entry, when one exists.
func orgDuoProvider(org *Organization) (TwoFactorProvider, bool) {
	for _, tp := range org.Providers {
		if tp.Kind != ProviderOrganizationDuo || !tp.Enabled {
			continue
		}
		if meta, ok := tp.Meta.(DuoMeta); ok && meta.Host != "" {
			return TwoFactorProvider{Kind: ProviderOrganizationDuo, Enabled: true, Meta: meta}, true
		}
	}
	return TwoFactorProvider{}, false
}
