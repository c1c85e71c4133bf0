package deskauth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testEmail      = "alice@example.com"
	testPassword   = "correct-horse-battery"
	testUserID     = "user-alice"
	testIP         = "203.0.113.7"
)

type fakeUser struct {
	user     User
	password string
}

// fakeUsers is an in-memory UserProvider that follows the error contract.
type fakeUsers struct {
	mu        sync.Mutex
	byEmail   map[string]fakeUser
	lookupErr error
	calls     atomic.Int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byEmail: map[string]fakeUser{
			testEmail: {
				user:     User{ID: testUserID, Email: testEmail, Role: "operator"},
				password: testPassword,
			},
		},
	}
}

func (f *fakeUsers) GetUser(_ context.Context, email, password string) (User, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return User{}, f.lookupErr
	}
	u, ok := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if u.password != password {
		return User{}, ErrInvalidCredentials
	}
	return u.user, nil
}

func (f *fakeUsers) GetByID(_ context.Context, userID string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return User{}, f.lookupErr
	}
	for _, u := range f.byEmail {
		if u.user.ID == userID {
			return u.user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeUsers) setRole(email, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byEmail[email]
	u.user.Role = role
	f.byEmail[email] = u
}

func (f *fakeUsers) remove(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byEmail, email)
}

func (f *fakeUsers) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupErr = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *fakeUsers
	clock  *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testSigningKey)
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestEnv(t testing.TB, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		users: newFakeUsers(),
		clock: &testClock{now: time.Unix(1_750_000_000, 0)},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.users).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

func (env *testEnv) login(t testing.TB) *AuthToken {
	t.Helper()
	pair, err := env.engine.Login(ipContext(testIP), testEmail, testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return pair
}
