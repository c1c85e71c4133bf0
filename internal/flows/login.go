package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/deskauth/internal/limiters"
	"github.com/MrEthical07/deskauth/lock"
	"github.com/MrEthical07/deskauth/tokens"
)

// LoginLockPrefix is prepended to the email and IP to form login lock names.
const LoginLockPrefix = "login:"

// LoginUser is the flow-local view of an authenticated user.
type LoginUser struct {
	UserID string
	Role   string
}

// LoginMetrics carries metric IDs needed by the login flows.
type LoginMetrics struct {
	LoginSuccess   int
	LoginFailure   int
	LoginLocked    int
	LoginContended int
	SessionCreated int
}

// LoginEvents carries audit event names used by the login flows.
type LoginEvents struct {
	LoginSuccess string
	LoginFailure string
	LoginLocked  string
}

// LoginErrors carries host-level errors returned by the login flows. The
// rejection constructors receive the reason recorded in the audit event and
// must return a fresh error on every call.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials func(reason string) error
	AccountLocked      func(reason string) error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	ClientIPFromContext func(context.Context) string

	CheckLocked            func(ctx context.Context, email, ip string) error
	IncrementOrErrIfLocked func(ctx context.Context, email, ip string) error
	ResetFailures          func(ctx context.Context, email, ip string) error

	// AcquireLock is only used by RunLoginWithLock. A contended lock must be
	// reported with lock.ErrNotAcquired.
	AcquireLock func(ctx context.Context, keys []string) (release func(), err error)

	LookupUser func(ctx context.Context, email, password string) (LoginUser, error)
	// IsCredentialFailure separates wrong credentials, which count toward
	// lockout, from collaborator outages, which propagate untouched.
	IsCredentialFailure func(error) bool
	IssueTokens         func(ctx context.Context, user LoginUser) (*tokens.AuthToken, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func (d *LoginDeps) withDefaults() bool {
	if d.ClientIPFromContext == nil {
		d.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if d.IsCredentialFailure == nil {
		d.IsCredentialFailure = func(error) bool { return false }
	}
	return d.Errors.InvalidCredentials != nil &&
		d.Errors.AccountLocked != nil &&
		d.CheckLocked != nil &&
		d.IncrementOrErrIfLocked != nil &&
		d.ResetFailures != nil &&
		d.LookupUser != nil &&
		d.IssueTokens != nil
}

// RunLogin executes the unlocked login path:
// check lock, look up user, check lock again, reset, issue.
//
// Two concurrent requests with valid credentials can both pass the second
// check before either resets the counters, and a lockout applied by another
// request between the reset and the issue does not stop this one from getting
// tokens. Callers that need strict serialization use RunLoginWithLock.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*tokens.AuthToken, error) {
	if !deps.withDefaults() {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if strings.TrimSpace(email) == "" {
		return nil, rejectInvalid(ctx, email, "empty_email", deps)
	}

	if err := checkLocked(ctx, email, ip, deps); err != nil {
		return nil, err
	}

	return authenticate(ctx, email, password, ip, deps)
}

// RunLoginWithLock executes the serialized login path. Every attempt for the
// same email or IP runs inside one distributed lock; losing the race for the
// lock is reported as a lockout instead of waiting.
func RunLoginWithLock(ctx context.Context, email, password string, deps LoginDeps) (*tokens.AuthToken, error) {
	if !deps.withDefaults() || deps.AcquireLock == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if strings.TrimSpace(email) == "" {
		return nil, rejectInvalid(ctx, email, "empty_email", deps)
	}

	if err := checkLocked(ctx, email, ip, deps); err != nil {
		return nil, err
	}

	release, err := deps.AcquireLock(ctx, LoginLockKeys(email, ip))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			deps.MetricInc(deps.Metrics.LoginContended)
			return nil, rejectLocked(ctx, email, "lock_contended", deps)
		}
		return nil, err
	}
	defer release()

	// The previous holder may have locked the account while we waited.
	if err := checkLocked(ctx, email, ip, deps); err != nil {
		return nil, err
	}

	return authenticate(ctx, email, password, ip, deps)
}

// LoginLockKeys returns the lock names guarding logins for email and ip.
func LoginLockKeys(email, ip string) []string {
	keys := []string{LoginLockPrefix + limiters.NormalizeEmail(email)}
	if ip = limiters.NormalizeEmail(ip); ip != "" {
		keys = append(keys, LoginLockPrefix+ip)
	}
	return keys
}

// authenticate is the part both paths share once the first lock check passed.
func authenticate(ctx context.Context, email, password, ip string, deps LoginDeps) (*tokens.AuthToken, error) {
	if password == "" {
		return nil, recordFailure(ctx, email, ip, "empty_password", deps)
	}

	user, err := deps.LookupUser(ctx, email, password)
	if err != nil {
		if deps.IsCredentialFailure(err) {
			return nil, recordFailure(ctx, email, ip, "invalid_credentials", deps)
		}
		return nil, err
	}

	if err := checkLocked(ctx, email, ip, deps); err != nil {
		return nil, err
	}

	if err := deps.ResetFailures(ctx, email, ip); err != nil {
		return nil, err
	}

	pair, err := deps.IssueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"email":      email,
			"session_id": pair.Access.SessionID,
		}
	})
	return pair, nil
}

func checkLocked(ctx context.Context, email, ip string, deps LoginDeps) error {
	err := deps.CheckLocked(ctx, email, ip)
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrAccountLocked) {
		return rejectLocked(ctx, email, "threshold_reached", deps)
	}
	return err
}

func recordFailure(ctx context.Context, email, ip, reason string, deps LoginDeps) error {
	err := deps.IncrementOrErrIfLocked(ctx, email, ip)
	switch {
	case err == nil:
		return rejectInvalid(ctx, email, reason, deps)
	case errors.Is(err, limiters.ErrAccountLocked):
		deps.MetricInc(deps.Metrics.LoginFailure)
		return rejectLocked(ctx, email, reason, deps)
	default:
		return err
	}
}

func rejectInvalid(ctx context.Context, email, reason string, deps LoginDeps) error {
	deps.MetricInc(deps.Metrics.LoginFailure)
	err := deps.Errors.InvalidCredentials(reason)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", err, func() map[string]string {
		return map[string]string{
			"email":  email,
			"reason": reason,
		}
	})
	return err
}

func rejectLocked(ctx context.Context, email, reason string, deps LoginDeps) error {
	deps.MetricInc(deps.Metrics.LoginLocked)
	err := deps.Errors.AccountLocked(reason)
	deps.EmitAudit(ctx, deps.Events.LoginLocked, false, "", err, func() map[string]string {
		return map[string]string{
			"email":  email,
			"reason": reason,
		}
	})
	return err
}
