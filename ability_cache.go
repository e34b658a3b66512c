package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// abilityCache keeps per-organization policy snapshots in Redis so the hot
// authentication path never fans out to the organization store. A snapshot
// carries only the flags the pipeline consults; anything else about the
// organization is fetched on demand by the caller.
type abilityCache struct {
	cfg    AbilityCacheConfig
	client redis.UniversalClient
	orgs   OrganizationProvider
}

func newAbilityCache(cfg AbilityCacheConfig, client redis.UniversalClient, orgs OrganizationProvider) *abilityCache {
	return &abilityCache{cfg: cfg, client: client, orgs: orgs}
}

func (c *abilityCache) key(orgID string) string {
	return c.cfg.RedisPrefix + ":" + orgID
}

// Get returns the cached ability snapshot for the organization, filling the
// cache from the organization provider on a miss.
func (c *abilityCache) Get(ctx context.Context, orgID string) (*OrganizationAbility, error) {
	raw, err := c.client.Get(ctx, c.key(orgID)).Result()
	if err == nil {
		var a OrganizationAbility
		if uerr := json.Unmarshal([]byte(raw), &a); uerr == nil {
			return &a, nil
		}
		// Corrupt entry: fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrAbilityCacheUnavailable, err)
	}

	return c.Refresh(ctx, orgID)
}

// Refresh rebuilds the snapshot from the organization provider and writes it
// back with the configured TTL. A cache write failure is not fatal: the
// snapshot is still returned so the current request proceeds.
func (c *abilityCache) Refresh(ctx context.Context, orgID string) (*OrganizationAbility, error) {
	org, err := c.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrganizationUnavailable, err)
	}

	a := &OrganizationAbility{
		OrganizationID: org.ID,
		Enabled:        org.Enabled,
		UseTwoFactor:   org.UseTwoFactor,
		UseSso:         org.UseSso,
		RequireSso:     org.RequireSso,
		RefreshedAt:    time.Now().UTC(),
	}

	buf, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbilityCacheUnavailable, err)
	}
	if err := c.client.Set(ctx, c.key(orgID), buf, c.cfg.TTL).Err(); err != nil {
		log.Print("authflow: organization ability cache write failed")
	}
	return a, nil
}

// Invalidate drops a cached snapshot so the next lookup rebuilds it.
func (c *abilityCache) Invalidate(ctx context.Context, orgID string) error {
	if err := c.client.Del(ctx, c.key(orgID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAbilityCacheUnavailable, err)
	}
	return nil
}
