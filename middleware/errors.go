package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/internal/slogx"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	code, ok := deskauth.CodeOf(err)
	if !ok {
		if errors.Is(err, deskauth.ErrUnavailable) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}

	switch code {
	case deskauth.CodeAccountLocked:
		return http.StatusTooManyRequests
	case deskauth.CodeInvalidCredentials, deskauth.CodeTokenExpired, deskauth.CodeInvalidToken:
		return http.StatusUnauthorized
	case deskauth.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as JSON. Domain errors keep their code and public
// message; Details never leave the process. Anything else is logged with the
// request logger and rendered without its text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	var body ErrorBody
	var de *deskauth.Error
	if errors.As(err, &de) {
		body = ErrorBody{Error: strings.ToLower(string(de.Code)), Message: de.Message}
	} else {
		if status == http.StatusServiceUnavailable {
			body = ErrorBody{Error: "unavailable", Message: "service temporarily unavailable"}
		} else {
			body = ErrorBody{Error: "internal_error", Message: "internal error"}
		}
		slogx.FromContext(r.Context(), slogx.Discard()).ErrorContext(r.Context(), "request failed", "error", err)
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v with status and disables caching; token responses must
// never be stored by intermediaries.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
