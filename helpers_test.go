package authflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BruteForce.FailureDelay = 10 * time.Millisecond
	cfg.Remember.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

/* ==== FAKE PROVIDERS ==== */

type fakePrincipals struct {
	mu        sync.Mutex
	byEmail   map[string]*Principal
	updates   int
	updateErr error
}

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{byEmail: map[string]*Principal{}}
}

func (f *fakePrincipals) add(p *Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.byEmail[p.Email] = &cp
}

func (f *fakePrincipals) get(email string) *Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byEmail[email]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (f *fakePrincipals) GetByEmail(_ context.Context, email string) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byEmail[email]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePrincipals) Update(_ context.Context, p *Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	cp := *p
	f.byEmail[p.Email] = &cp
	return nil
}

type fakeDevices struct {
	mu    sync.Mutex
	byKey map[string]*Device
	saves int
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{byKey: map[string]*Device{}}
}

func deviceKey(principalID, identifier string) string {
	return principalID + "|" + identifier
}

func (f *fakeDevices) add(d *Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.byKey[deviceKey(d.PrincipalID, d.Identifier)] = &cp
}

func (f *fakeDevices) get(principalID, identifier string) *Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.byKey[deviceKey(principalID, identifier)]; ok {
		cp := *d
		return &cp
	}
	return nil
}

func (f *fakeDevices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

func (f *fakeDevices) GetByIdentifier(_ context.Context, principalID, identifier string) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byKey[deviceKey(principalID, identifier)]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDevices) Save(_ context.Context, d *Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	cp := *d
	f.byKey[deviceKey(d.PrincipalID, d.Identifier)] = &cp
	return nil
}

type fakeOrgs struct {
	mu          sync.Mutex
	memberships map[string][]OrganizationMembership
	orgs        map[string]*Organization
}

func newFakeOrgs() *fakeOrgs {
	return &fakeOrgs{
		memberships: map[string][]OrganizationMembership{},
		orgs:        map[string]*Organization{},
	}
}

func (f *fakeOrgs) addOrg(org *Organization, principalID string, role OrgRole) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *org
	f.orgs[org.ID] = &cp
	f.memberships[principalID] = append(f.memberships[principalID], OrganizationMembership{
		OrganizationID: org.ID,
		Role:           role,
		Enabled:        true,
	})
}

func (f *fakeOrgs) GetMemberships(_ context.Context, principalID string) ([]OrganizationMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OrganizationMembership(nil), f.memberships[principalID]...), nil
}

func (f *fakeOrgs) GetOrganization(_ context.Context, organizationID string) (*Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[organizationID]
	if !ok {
		return nil, ErrOrganizationUnavailable
	}
	cp := *org
	return &cp, nil
}

type sentCode struct {
	email string
	code  string
}

type recordingMailer struct {
	mu              sync.Mutex
	newDevice       []string
	failedLogin     []string
	failedTwoFactor []string
	codes           []sentCode
}

func (m *recordingMailer) SendNewDeviceLoggedIn(_ context.Context, email string, _ *Device, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newDevice = append(m.newDevice, email)
	return nil
}

func (m *recordingMailer) SendFailedLoginAttempts(_ context.Context, email string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedLogin = append(m.failedLogin, email)
	return nil
}

func (m *recordingMailer) SendFailedTwoFactorAttempts(_ context.Context, email string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedTwoFactor = append(m.failedTwoFactor, email)
	return nil
}

func (m *recordingMailer) SendTwoFactorCode(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, sentCode{email: email, code: code})
	return nil
}

func (m *recordingMailer) sentCodes() []sentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentCode(nil), m.codes...)
}

func (m *recordingMailer) newDeviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.newDevice)
}

func (m *recordingMailer) failedLoginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failedLogin)
}

func (m *recordingMailer) failedTwoFactorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failedTwoFactor)
}

// alwaysMatch accepts any non-empty credential. Tests use it when the
// password stage is not the behavior under test.
type alwaysMatch struct{}

func (alwaysMatch) GrantType() GrantType { return GrantPassword }

func (alwaysMatch) Verify(_ context.Context, _ *Principal, req *TokenRequest) (bool, error) {
	return req.Credential == "correct-password", nil
}

/* ==== ENGINE FIXTURE ==== */

type testEnv struct {
	engine     *Engine
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	principals *fakePrincipals
	devices    *fakeDevices
	orgs       *fakeOrgs
	mailer     *recordingMailer
	delays     []time.Duration
}

func newTestEnv(t *testing.T, cfg Config) (*testEnv, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	env := &testEnv{
		mr:         mr,
		rdb:        rdb,
		principals: newFakePrincipals(),
		devices:    newFakeDevices(),
		orgs:       newFakeOrgs(),
		mailer:     &recordingMailer{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalProvider(env.principals).
		WithDeviceProvider(env.devices).
		WithOrganizationProvider(env.orgs).
		WithMailer(env.mailer).
		WithCredentialStrategy(alwaysMatch{}).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	// Record delays instead of sleeping so tests stay fast and deterministic.
	engine.guard.sleep = func(d time.Duration) {
		env.delays = append(env.delays, d)
	}

	env.engine = engine
	return env, func() {
		engine.Close()
		mr.Close()
	}
}

func seedPrincipal(env *testEnv, mutate func(*Principal)) *Principal {
	p := &Principal{
		ID:            "u1",
		Email:         "alice@example.com",
		SecurityStamp: "stamp-1",
		CreatedAt:     time.Now().UTC().Add(-24 * time.Hour),
		Kdf:           KdfPBKDF2,
		KdfIterations: 600000,
		Key:           "enc-key",
		PrivateKey:    "enc-private-key",
	}
	if mutate != nil {
		mutate(p)
	}
	env.principals.add(p)
	return p
}

func knownDevice(env *testEnv, principalID string) DeviceRequest {
	req := DeviceRequest{Identifier: "dev-1", Name: "Chrome", Type: DeviceTypeChromeBrowser}
	env.devices.add(&Device{
		ID:          "d1",
		PrincipalID: principalID,
		Identifier:  req.Identifier,
		Name:        req.Name,
		Type:        req.Type,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	})
	return req
}

func passwordRequest(device DeviceRequest) *TokenRequest {
	return &TokenRequest{
		GrantType:  GrantPassword,
		Email:      "alice@example.com",
		Credential: "correct-password",
		Device:     device,
	}
}
