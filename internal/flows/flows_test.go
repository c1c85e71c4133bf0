package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/deskauth/internal/limiters"
	"github.com/MrEthical07/deskauth/lock"
	"github.com/MrEthical07/deskauth/refresh"
	"github.com/MrEthical07/deskauth/tokens"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errAccountLocked      = errors.New("account locked")
	errNotReady           = errors.New("not ready")
	errWrongPassword      = errors.New("wrong password")
)

// rejection wraps a fixed error with the reason the flow reported.
type rejection struct {
	reason string
	err    error
}

func (r *rejection) Error() string { return r.err.Error() + ": " + r.reason }
func (r *rejection) Unwrap() error { return r.err }

func rejectWith(err error) func(string) error {
	return func(reason string) error { return &rejection{reason: reason, err: err} }
}

// fakeLogin backs LoginDeps with plain maps. lockAfterLookup simulates
// another request locking the account while the user lookup is in flight.
type fakeLogin struct {
	counts           map[string]int
	max              int
	lookupErr        error
	lockErr          error
	locked           bool
	released         int
	issued           int
	resets           int
	metrics          map[int]int
	events           []string
	auditErrs        []error
	lockAfterLookup  bool
	lockWhileWaiting bool
}

func newFakeLogin() *fakeLogin {
	return &fakeLogin{counts: map[string]int{}, max: 5, metrics: map[int]int{}}
}

func (f *fakeLogin) deps() LoginDeps {
	return LoginDeps{
		ClientIPFromContext: func(context.Context) string { return "10.0.0.1" },
		CheckLocked: func(_ context.Context, email, ip string) error {
			if f.counts[email] >= f.max || f.counts[ip] >= f.max {
				return limiters.ErrAccountLocked
			}
			return nil
		},
		IncrementOrErrIfLocked: func(_ context.Context, email, ip string) error {
			f.counts[email]++
			f.counts[ip]++
			if f.counts[email] >= f.max || f.counts[ip] >= f.max {
				return limiters.ErrAccountLocked
			}
			return nil
		},
		ResetFailures: func(_ context.Context, email, ip string) error {
			f.resets++
			delete(f.counts, email)
			delete(f.counts, ip)
			return nil
		},
		AcquireLock: func(context.Context, []string) (func(), error) {
			if f.lockErr != nil {
				return nil, f.lockErr
			}
			f.locked = true
			if f.lockWhileWaiting {
				f.counts["a@example.com"] = f.max
			}
			return func() { f.released++ }, nil
		},
		LookupUser: func(_ context.Context, email, password string) (LoginUser, error) {
			if f.lockAfterLookup {
				f.counts[email] = f.max
			}
			if f.lookupErr != nil {
				return LoginUser{}, f.lookupErr
			}
			if password != "secret" {
				return LoginUser{}, errWrongPassword
			}
			return LoginUser{UserID: "user-1", Role: "operator"}, nil
		},
		IsCredentialFailure: func(err error) bool { return errors.Is(err, errWrongPassword) },
		IssueTokens: func(_ context.Context, user LoginUser) (*tokens.AuthToken, error) {
			f.issued++
			return &tokens.AuthToken{Access: tokens.AccessToken{UserID: user.UserID, SessionID: "s-1", Role: user.Role}}, nil
		},
		MetricInc: func(id int) { f.metrics[id]++ },
		EmitAudit: func(_ context.Context, event string, _ bool, _ string, err error, metadata func() map[string]string) {
			if metadata != nil {
				_ = metadata()
			}
			f.events = append(f.events, event)
			f.auditErrs = append(f.auditErrs, err)
		},
		Metrics: LoginMetrics{LoginSuccess: 1, LoginFailure: 2, LoginLocked: 3, LoginContended: 4, SessionCreated: 5},
		Events:  LoginEvents{LoginSuccess: "login_success", LoginFailure: "login_failure", LoginLocked: "login_locked"},
		Errors: LoginErrors{
			EngineNotReady:     errNotReady,
			InvalidCredentials: rejectWith(errInvalidCredentials),
			AccountLocked:      rejectWith(errAccountLocked),
		},
	}
}

func TestRunLoginSuccessResetsAndIssues(t *testing.T) {
	f := newFakeLogin()
	f.counts["a@example.com"] = 3

	pair, err := RunLogin(context.Background(), "a@example.com", "secret", f.deps())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.Access.UserID != "user-1" || pair.Access.Role != "operator" {
		t.Fatalf("unexpected pair: %+v", pair.Access)
	}
	if f.resets != 1 || f.issued != 1 {
		t.Fatalf("expected one reset and one issue, got %d/%d", f.resets, f.issued)
	}
	if f.counts["a@example.com"] != 0 {
		t.Fatal("failure count must be cleared on success")
	}
	if f.metrics[1] != 1 || f.metrics[5] != 1 {
		t.Fatalf("unexpected metrics: %v", f.metrics)
	}
	if f.locked {
		t.Fatal("unlocked path must not take the distributed lock")
	}
}

func TestRunLoginLockedBeforeLookup(t *testing.T) {
	f := newFakeLogin()
	f.counts["10.0.0.1"] = 5
	lookups := 0
	deps := f.deps()
	lookup := deps.LookupUser
	deps.LookupUser = func(ctx context.Context, email, password string) (LoginUser, error) {
		lookups++
		return lookup(ctx, email, password)
	}

	_, err := RunLogin(context.Background(), "a@example.com", "secret", deps)
	if !errors.Is(err, errAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if lookups != 0 {
		t.Fatal("user lookup must not run for a locked key")
	}
}

func TestRunLoginWrongPasswordLocksOnFifthFailure(t *testing.T) {
	f := newFakeLogin()
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		_, err := RunLogin(ctx, "a@example.com", "nope", f.deps())
		if !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	_, err := RunLogin(ctx, "a@example.com", "nope", f.deps())
	if !errors.Is(err, errAccountLocked) {
		t.Fatalf("expected account locked on fifth failure, got %v", err)
	}

	_, err = RunLogin(ctx, "a@example.com", "secret", f.deps())
	if !errors.Is(err, errAccountLocked) {
		t.Fatalf("locked account must reject correct password, got %v", err)
	}
	if f.issued != 0 {
		t.Fatal("no tokens may be issued")
	}
}

func TestRunLoginRejectionsCarryReason(t *testing.T) {
	f := newFakeLogin()
	ctx := context.Background()

	want := []struct {
		password string
		target   error
		reason   string
	}{
		{"nope", errInvalidCredentials, "invalid_credentials"},
		{"", errInvalidCredentials, "empty_password"},
		{"nope", errInvalidCredentials, "invalid_credentials"},
		{"nope", errInvalidCredentials, "invalid_credentials"},
		{"nope", errAccountLocked, "invalid_credentials"},
		{"secret", errAccountLocked, "threshold_reached"},
	}
	for i, w := range want {
		_, err := RunLogin(ctx, "a@example.com", w.password, f.deps())
		var rej *rejection
		if !errors.As(err, &rej) {
			t.Fatalf("attempt %d: expected a constructed rejection, got %v", i, err)
		}
		if !errors.Is(err, w.target) || rej.reason != w.reason {
			t.Fatalf("attempt %d: got %v, want %v with reason %q", i, err, w.target, w.reason)
		}
		if f.auditErrs[len(f.auditErrs)-1] != err {
			t.Fatalf("attempt %d: audit event must carry the returned error", i)
		}
	}
}

func TestRunLoginNotReadyWithoutRejectionConstructors(t *testing.T) {
	deps := newFakeLogin().deps()
	deps.Errors.AccountLocked = nil
	_, err := RunLogin(context.Background(), "a@example.com", "secret", deps)
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestRunLoginEmptyInputs(t *testing.T) {
	f := newFakeLogin()

	_, err := RunLogin(context.Background(), " ", "secret", f.deps())
	if !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	_, err = RunLogin(context.Background(), "a@example.com", "", f.deps())
	if !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if f.counts["a@example.com"] != 1 {
		t.Fatal("empty password counts as a failure")
	}
}

func TestRunLoginLookupOutagePropagates(t *testing.T) {
	f := newFakeLogin()
	outage := errors.New("db down")
	f.lookupErr = outage

	_, err := RunLogin(context.Background(), "a@example.com", "secret", f.deps())
	if !errors.Is(err, outage) {
		t.Fatalf("expected outage error, got %v", err)
	}
	if f.counts["a@example.com"] != 0 {
		t.Fatal("collaborator outages must not count as failures")
	}
}

func TestRunLoginSecondCheckCatchesConcurrentLock(t *testing.T) {
	f := newFakeLogin()
	f.lockAfterLookup = true

	_, err := RunLogin(context.Background(), "a@example.com", "secret", f.deps())
	if !errors.Is(err, errAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if f.resets != 0 || f.issued != 0 {
		t.Fatal("must not reset or issue after a concurrent lockout")
	}
}

func TestRunLoginWithLockReleases(t *testing.T) {
	f := newFakeLogin()

	if _, err := RunLoginWithLock(context.Background(), "a@example.com", "secret", f.deps()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !f.locked || f.released != 1 {
		t.Fatalf("expected lock taken and released once, released=%d", f.released)
	}

	_, err := RunLoginWithLock(context.Background(), "a@example.com", "nope", f.deps())
	if !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if f.released != 2 {
		t.Fatal("lock must be released on failure too")
	}
}

func TestRunLoginWithLockContentionIsLockout(t *testing.T) {
	f := newFakeLogin()
	f.lockErr = lock.ErrNotAcquired

	_, err := RunLoginWithLock(context.Background(), "a@example.com", "secret", f.deps())
	if !errors.Is(err, errAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if f.metrics[4] != 1 {
		t.Fatal("contention metric not recorded")
	}

	outage := errors.New("redis down")
	f.lockErr = outage
	_, err = RunLoginWithLock(context.Background(), "a@example.com", "secret", f.deps())
	if !errors.Is(err, outage) {
		t.Fatalf("expected outage to propagate, got %v", err)
	}
}

func TestRunLoginWithLockRechecksAfterAcquire(t *testing.T) {
	f := newFakeLogin()
	f.lockWhileWaiting = true

	_, err := RunLoginWithLock(context.Background(), "a@example.com", "nope", f.deps())
	if !errors.Is(err, errAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if f.counts["a@example.com"] != f.max {
		t.Fatalf("no increment expected once locked, count=%d", f.counts["a@example.com"])
	}
	if f.released != 1 {
		t.Fatal("lock must be released")
	}
}

func TestRunLoginNotReady(t *testing.T) {
	_, err := RunLogin(context.Background(), "a@example.com", "secret", LoginDeps{Errors: LoginErrors{EngineNotReady: errNotReady}})
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}

	deps := newFakeLogin().deps()
	deps.AcquireLock = nil
	_, err = RunLoginWithLock(context.Background(), "a@example.com", "secret", deps)
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestLoginLockKeys(t *testing.T) {
	keys := LoginLockKeys(" A@Example.com ", "10.0.0.1")
	if len(keys) != 2 || keys[0] != "login:a@example.com" || keys[1] != "login:10.0.0.1" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if keys := LoginLockKeys("a@example.com", ""); len(keys) != 1 {
		t.Fatalf("empty ip must not produce a key: %v", keys)
	}
}

func TestRunRefresh(t *testing.T) {
	token, err := refresh.NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	released := 0
	var lockedKey string
	deps := RefreshDeps{
		AcquireLock: func(_ context.Context, key string) (func(), error) {
			lockedKey = key
			return func() { released++ }, nil
		},
		Rotate: func(context.Context, string) (*tokens.AuthToken, error) {
			return &tokens.AuthToken{Access: tokens.AccessToken{SessionID: "s-1"}}, nil
		},
	}

	res := RunRefresh(context.Background(), token, deps)
	if res.Failure != RefreshFailureNone || res.Pair == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if lockedKey != "refresh:"+token || released != 1 {
		t.Fatalf("lock not handled: key=%q released=%d", lockedKey, released)
	}

	if res := RunRefresh(context.Background(), "garbage", deps); res.Failure != RefreshFailureInvalid {
		t.Fatalf("expected invalid for malformed token, got %+v", res)
	}

	deps.Rotate = func(context.Context, string) (*tokens.AuthToken, error) { return nil, tokens.ErrTokenInvalid }
	if res := RunRefresh(context.Background(), token, deps); res.Failure != RefreshFailureInvalid {
		t.Fatalf("expected invalid, got %+v", res)
	}

	outage := errors.New("redis down")
	deps.Rotate = func(context.Context, string) (*tokens.AuthToken, error) { return nil, outage }
	if res := RunRefresh(context.Background(), token, deps); res.Failure != RefreshFailureBackend || !errors.Is(res.Err, outage) {
		t.Fatalf("expected backend failure, got %+v", res)
	}
	if released != 3 {
		t.Fatalf("lock must be released after every rotation attempt, got %d", released)
	}

	deps.AcquireLock = func(context.Context, string) (func(), error) { return nil, lock.ErrNotAcquired }
	if res := RunRefresh(context.Background(), token, deps); res.Failure != RefreshFailureConflict {
		t.Fatalf("expected conflict, got %+v", res)
	}
}

func TestRunLogout(t *testing.T) {
	var got string
	err := RunLogout(context.Background(), "s-1", LogoutDeps{
		ExpireSession: func(_ context.Context, sid string) error {
			got = sid
			return nil
		},
	})
	if err != nil || got != "s-1" {
		t.Fatalf("unexpected logout result: err=%v sid=%q", err, got)
	}
}

func TestRunValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var observed []time.Duration
	deps := ValidateDeps{
		Now: func() time.Time {
			now = now.Add(time.Millisecond)
			return now
		},
		ObserveLatency: func(d time.Duration) { observed = append(observed, d) },
	}

	deps.Verify = func(string) (*tokens.AccessToken, error) { return &tokens.AccessToken{UserID: "u"}, nil }
	if res := RunValidate("t", deps); res.Failure != ValidateFailureNone || res.Token.UserID != "u" {
		t.Fatalf("unexpected result %+v", res)
	}

	deps.Verify = func(string) (*tokens.AccessToken, error) { return nil, tokens.ErrTokenExpired }
	if res := RunValidate("t", deps); res.Failure != ValidateFailureExpired {
		t.Fatalf("expected expired, got %+v", res)
	}

	deps.Verify = func(string) (*tokens.AccessToken, error) { return nil, tokens.ErrTokenInvalid }
	if res := RunValidate("t", deps); res.Failure != ValidateFailureInvalid {
		t.Fatalf("expected invalid, got %+v", res)
	}

	if len(observed) != 3 || observed[0] != time.Millisecond {
		t.Fatalf("unexpected latency observations %v", observed)
	}
}
