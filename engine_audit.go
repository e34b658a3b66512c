package authflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	auditEventAuthSuccess         = "auth_success"
	auditEventAuthFailure         = "auth_failure"
	auditEventBotRejected         = "auth_bot_rejected"
	auditEventTwoFactorChallenge  = "two_factor_challenge"
	auditEventTwoFactorSuccess    = "two_factor_success"
	auditEventTwoFactorFailure    = "two_factor_failure"
	auditEventRememberRejected    = "remember_token_rejected"
	auditEventSsoRequired         = "sso_required"
	auditEventDeviceMissing       = "device_information_missing"
	auditEventNewDevice           = "new_device_seen"
	auditEventBruteForceWarning   = "brute_force_warning_sent"
	auditEventEmailCodeDispatched = "two_factor_email_dispatched"
)

// AuditErrorCode is the stable error label recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrBotFlagged         AuditErrorCode = "bot_flagged"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrSsoRequired        AuditErrorCode = "sso_required"
	auditErrDeviceMissing      AuditErrorCode = "device_missing"
	auditErrVerifierMissing    AuditErrorCode = "verifier_missing"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	grant GrantType,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		GrantType:   grant.String(),
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, errInvalidCredential):
		return auditErrInvalidCredentials
	case errors.Is(err, errBotFlagged):
		return auditErrBotFlagged
	case errors.Is(err, errTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, errSsoRequired):
		return auditErrSsoRequired
	case errors.Is(err, errDeviceMissing):
		return auditErrDeviceMissing
	case errors.Is(err, ErrVerifierMissing):
		return auditErrVerifierMissing
	case errors.Is(err, ErrPrincipalUnavailable),
		errors.Is(err, ErrOrganizationUnavailable),
		errors.Is(err, ErrDeviceUnavailable),
		errors.Is(err, ErrEmailCodeUnavailable),
		errors.Is(err, ErrAbilityCacheUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
