package authflow

import "context"

// ssoPolicyEnforcer blocks password logins for principals whose organization
// mandates single sign-on. Owners and admins are exempt so that a broken
// identity-provider configuration stays repairable.
type ssoPolicyEnforcer struct {
	cfg       SSOConfig
	abilities *abilityCache
}

func newSsoPolicyEnforcer(cfg SSOConfig, abilities *abilityCache) *ssoPolicyEnforcer {
	return &ssoPolicyEnforcer{cfg: cfg, abilities: abilities}
}

// RequiresSso reports whether the attempt must be redirected to SSO. Grant
// types that already prove federated or service trust are exempt.
func (e *ssoPolicyEnforcer) RequiresSso(ctx context.Context, memberships []OrganizationMembership, grant GrantType) (bool, error) {
	if !e.cfg.Enforce || grant.ssoExempt() {
		return false, nil
	}

	for _, m := range memberships {
		if !m.Enabled || ssoExemptRole(m.Role) {
			continue
		}
		ability, err := e.abilities.Get(ctx, m.OrganizationID)
		if err != nil {
			return false, err
		}
		if ability.Enabled && ability.UseSso && ability.RequireSso {
			return true, nil
		}
	}
	return false, nil
}
