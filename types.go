package authflow

import (
	"context"
	"time"
)

// ProviderKind identifies a two-factor provider type. The set is closed;
// [Engine.Authenticate] rejects tokens asserted against any other value.
type ProviderKind uint8

const (
	// ProviderAuthenticator is a TOTP authenticator app.
	ProviderAuthenticator ProviderKind = iota
	// ProviderEmail is a one-time code delivered over email.
	ProviderEmail
	// ProviderDuo is a per-principal Duo push/passcode integration.
	ProviderDuo
	// ProviderYubiKey is a YubiKey OTP credential.
	ProviderYubiKey
	// ProviderWebAuthn is a WebAuthn assertion.
	ProviderWebAuthn
	// ProviderRemember is a previously-issued remember token that stands in
	// for a fresh second factor on a recently-verified device.
	ProviderRemember
	// ProviderOrganizationDuo is a Duo integration owned by the context
	// organization rather than the principal.
	ProviderOrganizationDuo
)

// String returns the wire code for the provider kind.
func (k ProviderKind) String() string {
	switch k {
	case ProviderAuthenticator:
		return "authenticator"
	case ProviderEmail:
		return "email"
	case ProviderDuo:
		return "duo"
	case ProviderYubiKey:
		return "yubikey"
	case ProviderWebAuthn:
		return "webauthn"
	case ProviderRemember:
		return "remember"
	case ProviderOrganizationDuo:
		return "organization_duo"
	default:
		return "unknown"
	}
}

// ProviderMeta is the metadata carried by one provider entry. Each kind has
// its own concrete type; the verifier switches on the entry kind and asserts
// the matching meta.
type ProviderMeta interface {
	providerMeta()
}

// AuthenticatorMeta holds the shared TOTP secret for [ProviderAuthenticator]
// entries.
type AuthenticatorMeta struct {
	Secret string
}

// EmailMeta holds the delivery address for [ProviderEmail] entries.
type EmailMeta struct {
	Address string
}

// DuoMeta holds the Duo API host for [ProviderDuo] and
// [ProviderOrganizationDuo] entries.
type DuoMeta struct {
	Host string
}

// YubiKeyMeta holds the registered key identities for [ProviderYubiKey]
// entries.
type YubiKeyMeta struct {
	KeyIDs []string
}

// WebAuthnMeta holds the registered credential identifiers for
// [ProviderWebAuthn] entries.
type WebAuthnMeta struct {
	CredentialIDs []string
}

func (AuthenticatorMeta) providerMeta() {}
func (EmailMeta) providerMeta()         {}
func (DuoMeta) providerMeta()           {}
func (YubiKeyMeta) providerMeta()       {}
func (WebAuthnMeta) providerMeta()      {}

// TwoFactorProvider is one configured provider entry on a principal or an
// organization. Meta is nil for kinds that carry no metadata.
type TwoFactorProvider struct {
	Kind    ProviderKind
	Enabled bool
	Meta    ProviderMeta
}

// KdfType identifies the key-derivation function a client must use to derive
// the account key from the master password.
type KdfType uint8

const (
	// KdfPBKDF2 is an exported KDF constant surfaced in success custom data.
	KdfPBKDF2 KdfType = iota
	// KdfArgon2id is an exported KDF constant surfaced in success custom data.
	KdfArgon2id
)

// Principal is the account record the pipeline authenticates. It is loaded
// and persisted through [PrincipalProvider]; the engine mutates only the
// failed-login fields and reads everything else.
type Principal struct {
	ID                  string
	Email               string
	Name                string
	SecurityStamp       string
	PasswordHash        string
	TwoFactorEnabled    bool
	Providers           []TwoFactorProvider
	FailedLoginCount    int
	LastFailedLoginAt   time.Time
	CreatedAt           time.Time
	ForcePasswordReset  bool
	ResetMasterPassword bool
	Kdf                 KdfType
	KdfIterations       int
	Key                 string
	PrivateKey          string
}

// OrgRole is the principal's role inside one organization.
type OrgRole uint8

const (
	// RoleOwner is an exported organization role constant.
	RoleOwner OrgRole = iota
	// RoleAdmin is an exported organization role constant.
	RoleAdmin
	// RoleUser is an exported organization role constant.
	RoleUser
	// RoleCustom is an exported organization role constant.
	RoleCustom
)

// ssoExemptRole reports whether the role is exempt from organization SSO
// mandates. Owners and admins must retain password access so they can repair
// a broken identity-provider configuration.
func ssoExemptRole(r OrgRole) bool {
	return r == RoleOwner || r == RoleAdmin
}

// OrganizationMembership relates a principal to one organization.
type OrganizationMembership struct {
	OrganizationID string
	Role           OrgRole
	Enabled        bool
}

// Organization is the organization record consulted for two-factor and SSO
// policy. Providers holds organization-owned entries (OrganizationDuo).
type Organization struct {
	ID           string
	Name         string
	Enabled      bool
	UseTwoFactor bool
	UseSso       bool
	RequireSso   bool
	Providers    []TwoFactorProvider
}

// OrganizationAbility is the cached, eventually-consistent policy snapshot
// of one organization. See [Engine.RefreshOrganizationAbility].
type OrganizationAbility struct {
	OrganizationID string    `json:"organization_id"`
	Enabled        bool      `json:"enabled"`
	UseTwoFactor   bool      `json:"use_two_factor"`
	UseSso         bool      `json:"use_sso"`
	RequireSso     bool      `json:"require_sso"`
	RefreshedAt    time.Time `json:"refreshed_at"`
}

// DeviceType enumerates client platforms. The zero value means the request
// did not supply a type.
type DeviceType uint8

const (
	// DeviceTypeUnknown marks an absent device type on a request.
	DeviceTypeUnknown DeviceType = iota
	// DeviceTypeAndroid is an exported device type constant.
	DeviceTypeAndroid
	// DeviceTypeIOS is an exported device type constant.
	DeviceTypeIOS
	// DeviceTypeChromeExtension is an exported device type constant.
	DeviceTypeChromeExtension
	// DeviceTypeFirefoxExtension is an exported device type constant.
	DeviceTypeFirefoxExtension
	// DeviceTypeWindowsDesktop is an exported device type constant.
	DeviceTypeWindowsDesktop
	// DeviceTypeMacOSDesktop is an exported device type constant.
	DeviceTypeMacOSDesktop
	// DeviceTypeLinuxDesktop is an exported device type constant.
	DeviceTypeLinuxDesktop
	// DeviceTypeChromeBrowser is an exported device type constant.
	DeviceTypeChromeBrowser
	// DeviceTypeFirefoxBrowser is an exported device type constant.
	DeviceTypeFirefoxBrowser
	// DeviceTypeSafariBrowser is an exported device type constant.
	DeviceTypeSafariBrowser
	// DeviceTypeCLI is an exported device type constant.
	DeviceTypeCLI
	// DeviceTypeSDK is an exported device type constant.
	DeviceTypeSDK
)

// Device is one client device known to a principal. Identity is the
// (PrincipalID, Identifier) pair; the resolver never creates a second record
// for the same pair.
type Device struct {
	ID          string
	PrincipalID string
	Identifier  string
	Name        string
	Type        DeviceType
	PushToken   string
	CreatedAt   time.Time
}

// GrantType is the OAuth mechanism by which the credential is exchanged.
type GrantType uint8

const (
	// GrantPassword exchanges a master password for credentials.
	GrantPassword GrantType = iota
	// GrantAuthorizationCode completes a federated single-sign-on callback.
	GrantAuthorizationCode
	// GrantClientCredentials is an API-key style service-to-service exchange.
	GrantClientCredentials
	// GrantExtension exchanges a previously-issued short-lived code, for
	// example a device-approval grant.
	GrantExtension
)

// twoFactorExempt reports whether the grant type never requires a second
// factor. Service-to-service exchanges carry their own key material.
func (g GrantType) twoFactorExempt() bool {
	return g == GrantClientCredentials
}

// ssoExempt reports whether the grant type already proves SSO or
// service-to-service trust and therefore bypasses organization SSO mandates.
func (g GrantType) ssoExempt() bool {
	return g == GrantAuthorizationCode || g == GrantClientCredentials
}

// requiresDevice reports whether the grant type must carry device fields.
func (g GrantType) requiresDevice() bool {
	return g != GrantClientCredentials
}

// String returns the OAuth wire name of the grant type.
func (g GrantType) String() string {
	switch g {
	case GrantPassword:
		return "password"
	case GrantAuthorizationCode:
		return "authorization_code"
	case GrantClientCredentials:
		return "client_credentials"
	case GrantExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// DeviceRequest is the raw device material supplied on a token request.
// A zero Identifier, Name, or Type means the field was not supplied.
type DeviceRequest struct {
	Identifier string
	Name       string
	Type       DeviceType
	PushToken  string
}

// TokenRequest is one authentication attempt. It is ephemeral: the engine
// never persists it.
type TokenRequest struct {
	GrantType GrantType
	Email     string

	// Credential is the primary credential for the grant type: the master
	// password for GrantPassword, an exchange code otherwise. The registered
	// [CredentialStrategy] interprets it.
	Credential string

	TwoFactorToken    string
	TwoFactorProvider ProviderKind
	TwoFactorRemember bool

	// CaptchaResponse is the solved CAPTCHA, when one was demanded.
	// BotScore and IsBot arrive pre-computed from an external classifier;
	// this pipeline never calls the classifier itself.
	CaptchaResponse string
	BotScore        float64
	IsBot           bool

	Device DeviceRequest

	// AuthRequestID links a device-approval flow, when one is in progress.
	AuthRequestID string
}

func (r *TokenRequest) twoFactorSubmitted() bool {
	return r.TwoFactorToken != ""
}

// ResultKind discriminates the four terminal pipeline outcomes.
type ResultKind uint8

const (
	// ResultSuccess is an exported result kind constant.
	ResultSuccess ResultKind = iota
	// ResultTwoFactorChallenge is an exported result kind constant.
	ResultTwoFactorChallenge
	// ResultSsoRequired is an exported result kind constant.
	ResultSsoRequired
	// ResultError is an exported result kind constant.
	ResultError
)

// AuthResult is the outcome of [Engine.Authenticate]. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type AuthResult struct {
	Kind ResultKind

	// Success fields.
	PrincipalID string
	Claims      map[string]string
	CustomData  map[string]any

	// Challenge fields: the ordered enabled provider codes and a per-provider
	// parameter map (Duo host and signature, WebAuthn assertion options,
	// redacted email address).
	Providers      []ProviderKind
	ProviderParams map[ProviderKind]map[string]any

	// Message is the human-readable text for SsoRequired and Error results.
	// It is deliberately generic and never names the failed check.
	Message string
}

// Custom-data keys populated on a Success result.
const (
	// CustomDataKdf is an exported custom-data key constant.
	CustomDataKdf = "Kdf"
	// CustomDataKdfIterations is an exported custom-data key constant.
	CustomDataKdfIterations = "KdfIterations"
	// CustomDataKey is an exported custom-data key constant.
	CustomDataKey = "Key"
	// CustomDataPrivateKey is an exported custom-data key constant.
	CustomDataPrivateKey = "PrivateKey"
	// CustomDataForcePasswordReset is an exported custom-data key constant.
	CustomDataForcePasswordReset = "ForcePasswordReset"
	// CustomDataResetMasterPassword is an exported custom-data key constant.
	CustomDataResetMasterPassword = "ResetMasterPassword"
	// CustomDataTwoFactorToken is an exported custom-data key constant.
	CustomDataTwoFactorToken = "TwoFactorToken"
)

// ClaimDevice is the claim key carrying the resolved device identifier on a
// Success result.
const ClaimDevice = "device"

// PrincipalProvider is the persistence boundary for principal records. The
// engine reads by email and writes back failed-login counter mutations; it
// never creates or deletes principals.
type PrincipalProvider interface {
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	Update(ctx context.Context, principal *Principal) error
}

// DeviceProvider is the persistence boundary for device records.
// GetByIdentifier returns [ErrDeviceNotFound] for an unknown
// (principal, identifier) pair.
type DeviceProvider interface {
	GetByIdentifier(ctx context.Context, principalID, identifier string) (*Device, error)
	Save(ctx context.Context, device *Device) error
}

// OrganizationProvider is the read-only boundary for organization records
// and memberships.
type OrganizationProvider interface {
	GetMemberships(ctx context.Context, principalID string) ([]OrganizationMembership, error)
	GetOrganization(ctx context.Context, organizationID string) (*Organization, error)
}

// Mailer sends the pipeline's security notifications. Sends are best-effort:
// a mailer error never changes the authentication decision.
type Mailer interface {
	SendNewDeviceLoggedIn(ctx context.Context, email string, device *Device, at time.Time) error
	SendFailedLoginAttempts(ctx context.Context, email string, at time.Time) error
	SendFailedTwoFactorAttempts(ctx context.Context, email string, at time.Time) error
	SendTwoFactorCode(ctx context.Context, email, code string) error
}

// CredentialStrategy validates the primary credential for one grant type.
// Implementations report a verdict and leave counters and side effects to
// the pipeline.
type CredentialStrategy interface {
	GrantType() GrantType
	Verify(ctx context.Context, principal *Principal, req *TokenRequest) (bool, error)
}

// CodeVerifier checks a TOTP code against an authenticator entry. A default
// implementation is available through [NewTOTPVerifier].
type CodeVerifier interface {
	Verify(ctx context.Context, meta AuthenticatorMeta, token string) (bool, error)
}

// DuoVerifier is the external Duo capability, used for both per-principal
// and organization-scoped entries.
type DuoVerifier interface {
	SignRequest(ctx context.Context, host, email string) (string, error)
	Verify(ctx context.Context, host, email, token string) (bool, error)
}

// WebAuthnVerifier is the external WebAuthn assertion capability.
type WebAuthnVerifier interface {
	AssertionOptions(ctx context.Context, principal *Principal) (map[string]any, error)
	Verify(ctx context.Context, principal *Principal, token string) (bool, error)
}

// YubiKeyVerifier is the external YubiKey OTP capability.
type YubiKeyVerifier interface {
	Verify(ctx context.Context, meta YubiKeyMeta, token string) (bool, error)
}
