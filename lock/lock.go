package lock

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/deskauth/kv"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when at least one requested key is already held.
var ErrNotAcquired = errors.New("lock not acquired")

// KeyPrefix namespaces every lock marker in the store.
const KeyPrefix = "lock:"

const acquireAllScript = `
for i = 1, #KEYS do
  if redis.call("EXISTS", KEYS[i]) == 1 then
    return 0
  end
end
for i = 1, #KEYS do
  redis.call("SET", KEYS[i], ARGV[1], "PX", ARGV[2])
end
return 1
`

var acquireAllLua = redis.NewScript(acquireAllScript)

const releaseScript = `
local released = 0
for i = 1, #KEYS do
  if redis.call("GET", KEYS[i]) == ARGV[1] then
    released = released + redis.call("DEL", KEYS[i])
  end
end
return released
`

var releaseLua = redis.NewScript(releaseScript)

// Token proves ownership of one or more named locks. Keys are the caller's
// names (without [KeyPrefix]), sorted and deduplicated.
type Token struct {
	Keys      []string
	OwnerID   string
	ExpiresAt time.Time
}

// Expired reports whether the lock TTL has elapsed at now. An expired token may
// already have been re-acquired by someone else and must not be trusted.
func (t *Token) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// Option customizes a [Locker].
type Option func(*Locker)

// WithLogger sets the logger used for best-effort release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp token expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		if now != nil {
			l.now = now
		}
	}
}

// WithOwnerIDs overrides owner id generation.
func WithOwnerIDs(next func() string) Option {
	return func(l *Locker) {
		if next != nil {
			l.newOwnerID = next
		}
	}
}

// Locker acquires and releases ownership-token locks stored in Redis.
//
// Mutual exclusion holds across processes because every decision happens in
// a single SET NX or Lua script on the server. Locks do not block: contention
// is reported immediately with [ErrNotAcquired].
type Locker struct {
	redis      redis.UniversalClient
	logger     *slog.Logger
	now        func() time.Time
	newOwnerID func() string
}

// New creates a [Locker] backed by the given Redis client.
func New(redisClient redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		redis:      redisClient,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
		newOwnerID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes a single lock for ttl.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Token, error) {
	if key == "" {
		return nil, errors.New("lock key must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be > 0")
	}

	owner := l.newOwnerID()
	expiresAt := l.now().Add(ttl)

	ok, err := l.redis.SetNX(ctx, KeyPrefix+key, owner, ttl).Result()
	if err != nil {
		return nil, kv.Unavailable(err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Token{Keys: []string{key}, OwnerID: owner, ExpiresAt: expiresAt}, nil
}

// AcquireAll takes every lock in keys or none of them. Keys are deduplicated
// and sorted so that two callers locking the same set can never hold disjoint
// halves of it.
func (l *Locker) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (*Token, error) {
	ordered := normalizeKeys(keys)
	if len(ordered) == 0 {
		return nil, errors.New("lock keys must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be > 0")
	}
	if len(ordered) == 1 {
		return l.Acquire(ctx, ordered[0], ttl)
	}

	owner := l.newOwnerID()
	expiresAt := l.now().Add(ttl)

	acquired, err := acquireAllLua.Run(ctx, l.redis, prefixed(ordered), owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, kv.Unavailable(err)
	}
	if acquired != 1 {
		return nil, ErrNotAcquired
	}

	return &Token{Keys: ordered, OwnerID: owner, ExpiresAt: expiresAt}, nil
}

// Release deletes every key of token that is still owned by token.OwnerID.
// It returns true only when all keys were released; a false result with a nil
// error means some keys had expired or been taken over, and those were left
// untouched.
func (l *Locker) Release(ctx context.Context, token *Token) (bool, error) {
	if token == nil || len(token.Keys) == 0 || token.OwnerID == "" {
		return false, nil
	}

	released, err := releaseLua.Run(ctx, l.redis, prefixed(token.Keys), token.OwnerID).Int64()
	if err != nil {
		return false, kv.Unavailable(err)
	}
	return released == int64(len(token.Keys)), nil
}

// WithLock runs fn while holding every lock in keys. The locks are released
// when fn returns, whatever its outcome; release problems are logged and never
// replace fn's error.
func (l *Locker) WithLock(ctx context.Context, keys []string, ttl time.Duration, fn func(context.Context) error) error {
	token, err := l.AcquireAll(ctx, keys, ttl)
	if err != nil {
		return err
	}
	defer l.releaseQuietly(ctx, token)

	return fn(ctx)
}

// Hold acquires every lock in keys and returns a func that releases them.
// The release func logs failures instead of returning them and is safe to
// call more than once.
func (l *Locker) Hold(ctx context.Context, keys []string, ttl time.Duration) (release func(), err error) {
	token, err := l.AcquireAll(ctx, keys, ttl)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.releaseQuietly(ctx, token) })
	}, nil
}

func (l *Locker) releaseQuietly(ctx context.Context, token *Token) {
	// Release must run even if the request context was cancelled mid-flight.
	ok, err := l.Release(context.WithoutCancel(ctx), token)
	switch {
	case err != nil:
		l.logger.Warn("lock release failed", "keys", token.Keys, "error", err)
	case !ok:
		l.logger.Warn("lock released partially; ownership lost before release", "keys", token.Keys)
	}
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func prefixed(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = KeyPrefix + k
	}
	return out
}
