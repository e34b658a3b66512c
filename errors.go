package authflow

import "errors"

// User-facing result messages. Rejection messages are deliberately generic:
// they never reveal which validation step failed.
const (
	// MsgInvalidCredentials is returned for every primary-credential
	// rejection, including unknown principals and bot-flagged attempts.
	MsgInvalidCredentials = "Username or password is incorrect. Try again."
	// MsgInvalidTwoFactor is returned for every second-factor rejection.
	MsgInvalidTwoFactor = "Two-step token is invalid. Try again."
	// MsgNoDeviceInformation is returned when a grant type that needs a
	// device arrives without complete device fields.
	MsgNoDeviceInformation = "No device information provided."
	// MsgSsoRequired is carried on an SsoRequired result.
	MsgSsoRequired = "SSO authentication is required."
)

var (
	// ErrEngineNotReady is an exported sentinel used by the validation engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnknownGrantType is an exported sentinel used by the validation engine.
	ErrUnknownGrantType = errors.New("no credential strategy registered for grant type")
	// ErrDeviceNotFound is returned by DeviceProvider implementations for an
	// unknown (principal, identifier) pair.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrPrincipalNotFound is returned by PrincipalProvider implementations
	// for an unknown email. The engine converts it into the generic
	// invalid-credentials rejection.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalUnavailable is an exported sentinel used by the validation engine.
	ErrPrincipalUnavailable = errors.New("principal backend unavailable")
	// ErrOrganizationUnavailable is an exported sentinel used by the validation engine.
	ErrOrganizationUnavailable = errors.New("organization backend unavailable")
	// ErrDeviceUnavailable is an exported sentinel used by the validation engine.
	ErrDeviceUnavailable = errors.New("device backend unavailable")
	// ErrEmailCodeUnavailable is an exported sentinel used by the validation engine.
	ErrEmailCodeUnavailable = errors.New("email code backend unavailable")
	// ErrAbilityCacheUnavailable is an exported sentinel used by the validation engine.
	ErrAbilityCacheUnavailable = errors.New("ability cache backend unavailable")
	// ErrRememberDisabled is an exported sentinel used by the validation engine.
	ErrRememberDisabled = errors.New("remember tokens disabled")
	// ErrVerifierMissing is returned when a token is asserted against a
	// provider kind with no registered external capability.
	ErrVerifierMissing = errors.New("no verifier registered for provider")
)

// Internal rejection reasons. These never leave the engine; terminal results
// carry only the generic messages above, and these exist to label audit
// events with a stable cause.
var (
	errInvalidCredential = errors.New("invalid credential")
	errBotFlagged        = errors.New("bot flagged")
	errTwoFactorInvalid  = errors.New("two factor invalid")
	errSsoRequired       = errors.New("sso required")
	errDeviceMissing     = errors.New("device information missing")
)
