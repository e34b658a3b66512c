package authflow

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// deviceResolver binds authenticated sessions to caller-reported devices. A
// device is identified by the (principal, identifier) pair; the identifier is
// a client-generated opaque string that survives reinstallations of the same
// client on the same machine.
type deviceResolver struct {
	cfg     DeviceConfig
	devices DeviceProvider
	clock   func() time.Time
}

func newDeviceResolver(cfg DeviceConfig, devices DeviceProvider) *deviceResolver {
	return &deviceResolver{cfg: cfg, devices: devices, clock: time.Now}
}

// IsKnown reports whether the request's device was seen before for the
// principal. An incomplete device request is treated as unknown.
func (r *deviceResolver) IsKnown(ctx context.Context, principalID string, req *DeviceRequest) bool {
	if r == nil || !deviceComplete(req) {
		return false
	}
	_, err := r.devices.GetByIdentifier(ctx, principalID, req.Identifier)
	return err == nil
}

// Resolve upserts the request's device for the principal. It returns the
// stored device and whether it existed before this call. An incomplete
// request resolves to (nil, false, nil): absence of device information is a
// policy decision for the caller, not an error here.
func (r *deviceResolver) Resolve(ctx context.Context, p *Principal, req *DeviceRequest) (*Device, bool, error) {
	if !deviceComplete(req) {
		return nil, false, nil
	}

	existing, err := r.devices.GetByIdentifier(ctx, p.ID, req.Identifier)
	switch {
	case err == nil:
		r.refresh(ctx, existing, req)
		return existing, true, nil
	case errors.Is(err, ErrDeviceNotFound):
		d := &Device{
			ID:          uuid.NewString(),
			PrincipalID: p.ID,
			Identifier:  req.Identifier,
			Name:        req.Name,
			Type:        req.Type,
			PushToken:   req.PushToken,
			CreatedAt:   r.clock().UTC(),
		}
		if err := r.devices.Save(ctx, d); err != nil {
			return nil, false, err
		}
		return d, false, nil
	default:
		return nil, false, err
	}
}

// refresh writes back mutable device attributes when the client reports new
// values. Persistence failures are logged and swallowed; stale metadata must
// not fail a login.
func (r *deviceResolver) refresh(ctx context.Context, d *Device, req *DeviceRequest) {
	changed := false
	if req.Name != "" && req.Name != d.Name {
		d.Name = req.Name
		changed = true
	}
	if req.Type != DeviceTypeUnknown && req.Type != d.Type {
		d.Type = req.Type
		changed = true
	}
	if req.PushToken != "" && req.PushToken != d.PushToken {
		d.PushToken = req.PushToken
		changed = true
	}
	if !changed {
		return
	}
	if err := r.devices.Save(ctx, d); err != nil {
		log.Print("authflow: device metadata refresh failed")
	}
}

// pastGraceWindow reports whether a first-sighting notification should go
// out for the principal. Accounts younger than the grace window are exempt:
// their first few logins are all "new devices" by definition and mailing on
// each would be noise.
func (r *deviceResolver) pastGraceWindow(p *Principal) bool {
	if r.cfg.NewDeviceGraceWindow <= 0 {
		return true
	}
	return r.clock().UTC().Sub(p.CreatedAt) > r.cfg.NewDeviceGraceWindow
}

func deviceComplete(req *DeviceRequest) bool {
	return req != nil && req.Identifier != "" && req.Name != "" && req.Type != DeviceTypeUnknown
}
