package deskauth

import (
	"context"
	"errors"
	"log/slog"

	internalaudit "github.com/MrEthical07/deskauth/internal/audit"
)

const (
	auditEventLoginSuccess    = "login_success"
	auditEventLoginFailure    = "login_failure"
	auditEventLoginLocked     = "login_locked"
	auditEventRefreshSuccess  = "refresh_success"
	auditEventRefreshInvalid  = "refresh_invalid"
	auditEventRefreshConflict = "refresh_conflict"
	auditEventLogoutSession   = "logout_session"
	auditEventBackendFailure  = "backend_failure"
)

// AuditErrorCode is the short error label written into audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
		Logger:     logger,
	}, sink)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
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
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
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
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
