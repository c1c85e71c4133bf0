package deskauth

import (
	"errors"
	"maps"

	"github.com/MrEthical07/deskauth/kv"
)

// Code is the stable, client-facing identifier of a domain error.
type Code string

const (
	// CodeAccountLocked means too many failed logins for the email or IP.
	CodeAccountLocked Code = "ACCOUNT_LOCKED"
	// CodeInvalidCredentials means the email or password did not match.
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	// CodeTokenExpired means a well-formed access token is past its exp.
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	// CodeInvalidToken covers every other unusable access or refresh token.
	CodeInvalidToken Code = "INVALID_TOKEN"
	// CodeConflict means another refresh of the same token is in flight.
	CodeConflict Code = "CONFLICT"
)

// Error is a domain error returned by the Engine.
//
// Two errors match under errors.Is when their codes are equal, so callers
// compare against the exported sentinels. Details is for logs and audit only
// and must not be sent to clients.
type Error struct {
	Code    Code
	Message string
	Details map[string]string

	cause error
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the package-level error this one was mapped from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// with returns a copy of e carrying cause and details.
func (e *Error) with(cause error, details map[string]string) *Error {
	out := &Error{Code: e.Code, Message: e.Message, cause: cause}
	if len(details) > 0 {
		out.Details = maps.Clone(details)
	}
	return out
}

// reject returns a copy of e whose details record reason and, when set, the
// cause's message.
func (e *Error) reject(reason string, cause error) *Error {
	details := map[string]string{"reason": reason}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return e.with(cause, details)
}

var (
	// ErrAccountLocked is returned while the email or IP is locked out. The
	// message does not say which one.
	ErrAccountLocked = &Error{Code: CodeAccountLocked, Message: "too many failed attempts, try again later"}
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid email or password"}
	// ErrTokenExpired is returned for an expired access token.
	ErrTokenExpired = &Error{Code: CodeTokenExpired, Message: "access token expired"}
	// ErrInvalidToken is returned for malformed, forged, revoked or already used tokens.
	ErrInvalidToken = &Error{Code: CodeInvalidToken, Message: "token is invalid"}
	// ErrConflict is returned when a refresh of the same token is already running.
	ErrConflict = &Error{Code: CodeConflict, Message: "refresh already in progress"}
)

var (
	// ErrUserNotFound is returned by a [UserProvider] for an unknown email or id.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is returned when the Engine was not built by a [Builder].
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnavailable matches infrastructure failures of the key-value store.
	ErrUnavailable = kv.ErrUnavailable
)

// CodeOf returns the domain code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
