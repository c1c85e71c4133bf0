package deskauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/deskauth/internal/audit"
	"github.com/MrEthical07/deskauth/internal/flows"
	"github.com/MrEthical07/deskauth/internal/limiters"
	"github.com/MrEthical07/deskauth/lock"
	"github.com/MrEthical07/deskauth/tokens"
)

// Engine is the authentication core: login with brute-force lockout, token
// refresh, logout and access-token checks.
//
// Engine holds no per-request state; all coordination between requests and
// between processes goes through Redis. It is safe for concurrent use once
// built by [Builder.Build].
type Engine struct {
	config   Config
	users    UserProvider
	issuer   *tokens.Issuer
	locker   *lock.Locker
	failures *limiters.FailureTracker
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	flows    flows.Deps
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// FailureCount returns the current failure count for an email or IP.
func (e *Engine) FailureCount(ctx context.Context, emailOrIP string) (int, error) {
	if e == nil || e.failures == nil {
		return 0, ErrEngineNotReady
	}
	return e.failures.FailureCount(ctx, emailOrIP)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login authenticates email and password. The client IP is taken from ctx
// (see [WithClientIP]); failures are counted per email and per IP.
//
// It returns [ErrAccountLocked] while either is locked out and
// [ErrInvalidCredentials] for a wrong email or password. Store and user
// provider failures are returned as is and do not count as failed attempts.
//
// Login does not serialize concurrent attempts. Requests racing on the same
// email can each see the counter below the threshold before any of them
// increments it, so a burst may get a few more tries than MaxFailures allows.
// Also, resetting the counters and issuing tokens are separate steps: a
// lockout applied by a concurrent request in between does not stop this
// login. Use [Engine.LoginWithLock] where strict counting matters.
func (e *Engine) Login(ctx context.Context, email, password string) (*AuthToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	pair, err := flows.RunLogin(ctx, email, password, e.flows.Login)
	return pair, e.observeBackend(ctx, "login", err)
}

// LoginWithLock is Login with every attempt for the same email or IP
// serialized by a distributed lock. A request that finds the lock held fails
// immediately with [ErrAccountLocked] instead of waiting.
func (e *Engine) LoginWithLock(ctx context.Context, email, password string) (*AuthToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	pair, err := flows.RunLoginWithLock(ctx, email, password, e.flows.Login)
	return pair, e.observeBackend(ctx, "login_with_lock", err)
}

// Refresh exchanges a refresh token for a new pair in the same session. The
// presented token is consumed. Unknown, expired, revoked or already used
// tokens get [ErrInvalidToken]; a refresh of the same token that is still
// running elsewhere gets [ErrConflict].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Pair.Access.UserID, res.Pair.Access.SessionID, nil, nil)
		return res.Pair, nil
	case flows.RefreshFailureInvalid:
		e.metricInc(MetricRefreshFailure)
		err := ErrInvalidToken.reject("refresh_invalid", res.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return nil, err
	case flows.RefreshFailureConflict:
		e.metricInc(MetricRefreshConflict)
		err := ErrConflict.reject("refresh_in_flight", res.Err)
		e.emitAudit(ctx, auditEventRefreshConflict, false, "", "", err, nil)
		return nil, err
	default:
		return nil, e.observeBackend(ctx, "refresh", res.Err)
	}
}

// Logout revokes the refresh token of sessionID. Access tokens already
// handed out stay valid until they expire. Unknown sessions are a no-op.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := flows.RunLogout(ctx, sessionID, e.flows.Logout); err != nil {
		return e.observeBackend(ctx, "logout", err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", sessionID, nil, nil)
	return nil
}

// CheckAccessToken verifies an access token, with or without a "Bearer "
// prefix. It never touches the store. It returns [ErrTokenExpired] only for an
// otherwise valid token past its expiry and [ErrInvalidToken] for anything
// else.
func (e *Engine) CheckAccessToken(ctx context.Context, accessToken string) (*AccessToken, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunValidate(accessToken, e.flows.Validate)
	switch res.Failure {
	case flows.ValidateFailureNone:
		e.metricInc(MetricValidateSuccess)
		return res.Token, nil
	case flows.ValidateFailureExpired:
		e.metricInc(MetricValidateExpired)
		return nil, ErrTokenExpired.reject("expired", res.Err)
	default:
		e.metricInc(MetricValidateInvalid)
		e.logger.DebugContext(ctx, "access token rejected", "error", res.Err)
		return nil, ErrInvalidToken.reject("invalid", res.Err)
	}
}

// observeBackend records err when it is neither nil nor a domain error and
// returns it unchanged.
func (e *Engine) observeBackend(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok || errors.Is(err, ErrEngineNotReady) {
		return err
	}

	e.metricInc(MetricBackendError)
	e.logger.ErrorContext(ctx, "auth operation failed", "op", op, "error", err)
	e.emitAudit(ctx, auditEventBackendFailure, false, "", "", err, func() map[string]string {
		return map[string]string{"op": op}
	})
	return err
}

func (e *Engine) flowDeps() flows.Deps {
	return flows.Deps{
		Login: flows.LoginDeps{
			ClientIPFromContext:    ClientIPFromContext,
			CheckLocked:            e.failures.CheckLocked,
			IncrementOrErrIfLocked: e.failures.IncrementOrErrIfLocked,
			ResetFailures:          e.failures.Reset,
			AcquireLock: func(ctx context.Context, keys []string) (func(), error) {
				return e.locker.Hold(ctx, keys, e.config.Locking.LoginLockTTL)
			},
			LookupUser:          e.lookupUser,
			IsCredentialFailure: isCredentialFailure,
			IssueTokens: func(ctx context.Context, user flows.LoginUser) (*tokens.AuthToken, error) {
				return e.issuer.Issue(ctx, tokens.Subject{ID: user.UserID, Role: user.Role}, "")
			},
			MetricInc: func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit: func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string) {
				e.emitAudit(ctx, event, success, userID, "", err, metadata)
			},
			Metrics: flows.LoginMetrics{
				LoginSuccess:   int(MetricLoginSuccess),
				LoginFailure:   int(MetricLoginFailure),
				LoginLocked:    int(MetricLoginLocked),
				LoginContended: int(MetricLoginContended),
				SessionCreated: int(MetricSessionCreated),
			},
			Events: flows.LoginEvents{
				LoginSuccess: auditEventLoginSuccess,
				LoginFailure: auditEventLoginFailure,
				LoginLocked:  auditEventLoginLocked,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: func(reason string) error { return ErrInvalidCredentials.reject(reason, nil) },
				AccountLocked:      func(reason string) error { return ErrAccountLocked.reject(reason, nil) },
			},
		},
		Refresh: flows.RefreshDeps{
			AcquireLock: func(ctx context.Context, key string) (func(), error) {
				return e.locker.Hold(ctx, []string{key}, e.config.Locking.RefreshLockTTL)
			},
			Rotate: e.issuer.Refresh,
		},
		Logout: flows.LogoutDeps{
			ExpireSession: e.issuer.ExpireBySessionID,
		},
		Validate: flows.ValidateDeps{
			Verify: e.issuer.Verify,
			Now:    e.now,
			ObserveLatency: func(d time.Duration) {
				e.metrics.Observe(MetricValidateLatency, d)
			},
		},
	}
}

func (e *Engine) lookupUser(ctx context.Context, email, password string) (flows.LoginUser, error) {
	u, err := e.users.GetUser(ctx, email, password)
	if err != nil {
		return flows.LoginUser{}, err
	}
	if u.ID == "" {
		return flows.LoginUser{}, ErrUserNotFound
	}
	return flows.LoginUser{UserID: u.ID, Role: u.Role}, nil
}

func isCredentialFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrUserNotFound)
}
