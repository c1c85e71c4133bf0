package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/internal/slogx"
	"github.com/MrEthical07/deskauth/metrics/export/prometheus"
	"github.com/MrEthical07/deskauth/middleware"
	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 16

// pinger reports whether a backing store answers.
type pinger func(ctx context.Context) error

type server struct {
	engine      *deskauth.Engine
	logger      *slog.Logger
	strictLogin bool
	checks      map[string]pinger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	TokenType        string    `json:"token_type"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// routes wires the HTTP surface. Login and refresh sit behind the per-IP
// throttle; logout and me need a valid access token.
func (s *server) routes(trustProxy bool, throttle middleware.ThrottleConfig) http.Handler {
	limited := middleware.Throttle(throttle)
	guard := middleware.Guard(s.engine)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/login", limited(http.HandlerFunc(s.login)))
	mux.Handle("POST /v1/refresh", limited(http.HandlerFunc(s.refresh)))
	mux.Handle("POST /v1/logout", guard(http.HandlerFunc(s.logout)))
	mux.Handle("GET /v1/me", guard(http.HandlerFunc(s.me)))
	mux.Handle("GET /metrics", prometheus.New(s.engine).Handler())
	mux.HandleFunc("GET /healthz", s.health)

	h := middleware.ClientIP(trustProxy)(mux)
	h = recoverMiddleware(h)
	return slogx.HTTPMiddleware(s.logger)(h)
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	email := strings.TrimSpace(body.Email)
	if email == "" {
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: "bad_request", Message: "email is required"})
		return
	}

	var (
		token *deskauth.AuthToken
		err   error
	)
	if s.strictLogin {
		token, err = s.engine.LoginWithLock(r.Context(), email, body.Password)
	} else {
		token, err = s.engine.Login(r.Context(), email, body.Password)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newTokenResponse(token))
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	token, err := s.engine.Refresh(r.Context(), strings.TrimSpace(body.RefreshToken))
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newTokenResponse(token))
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	tok, _ := middleware.AccessTokenFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), tok.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	tok, _ := middleware.AccessTokenFromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		UserID:    tok.UserID,
		SessionID: tok.SessionID,
		Role:      tok.Role,
		ExpiresAt: tok.ExpiresAt,
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = "down"
			slogx.FromContext(r.Context(), s.logger).WarnContext(r.Context(), "health_check_failed",
				"check", name,
				"error", err,
			)
			continue
		}
		body[name] = "up"
	}
	middleware.WriteJSON(w, status, body)
}

func newTokenResponse(t *deskauth.AuthToken) tokenResponse {
	resp := tokenResponse{
		AccessToken:     t.Access.Token,
		AccessExpiresAt: t.Access.ExpiresAt,
		SessionID:       t.Access.SessionID,
		TokenType:       "Bearer",
	}
	if t.Refresh != nil {
		resp.RefreshToken = t.Refresh.Token
		resp.RefreshExpiresAt = t.Refresh.ExpiresAt
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: "bad_request", Message: "invalid json body"})
		return false
	}
	return true
}

// writeError renders err and sends server-side failures to Sentry. Domain
// outcomes like lockouts are not reported.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if middleware.StatusFor(err) >= http.StatusInternalServerError {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(r)
		hub.CaptureException(err)
	}
	middleware.WriteError(w, r, err)
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					sentry.CaptureMessage("panic in request")
				})
				slogx.FromContext(r.Context(), slogx.Discard()).ErrorContext(r.Context(), "panic_recovered",
					"panic", rec,
				)
				middleware.WriteJSON(w, http.StatusInternalServerError, middleware.ErrorBody{Error: "internal_error", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
