package limiters

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/deskauth/kv"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMaxFailures is the failure count at which a key becomes locked.
	DefaultMaxFailures = 5
	// DefaultLockoutWindow is how long a locked key stays locked after the
	// last failure that refreshed its TTL.
	DefaultLockoutWindow = 15 * time.Minute

	failureKeyPrefix = "login_failure:"
)

// ErrAccountLocked is returned when the email or IP failure counter has reached
// the configured threshold. It intentionally does not say which one.
var ErrAccountLocked = errors.New("account locked")

// FailureConfig holds lockout tuning parameters.
type FailureConfig struct {
	MaxFailures   int
	LockoutWindow time.Duration
}

// Every key is incremented and its TTL is raised to the window only when the
// key is new (PTTL -1/-2) or has less time left than the window. A longer TTL
// is never shortened.
const incrementFailuresScript = `
local window = tonumber(ARGV[1])
local counts = {}
for i = 1, #KEYS do
  local count = redis.call("INCR", KEYS[i])
  local remaining = redis.call("PTTL", KEYS[i])
  if remaining < window then
    redis.call("PEXPIRE", KEYS[i], window)
  end
  counts[i] = count
end
return counts
`

var incrementFailuresLua = redis.NewScript(incrementFailuresScript)

// FailureTracker counts failed logins per email and per IP.
//
// Increments run in one Lua script across both keys, so concurrent failures
// each observe a distinct, monotonically increasing count and the lockout
// threshold is reached exactly once.
type FailureTracker struct {
	redis  redis.UniversalClient
	config FailureConfig
}

// NewFailureTracker creates a failure tracker. Zero config values fall back to
// [DefaultMaxFailures] and [DefaultLockoutWindow].
func NewFailureTracker(redisClient redis.UniversalClient, cfg FailureConfig) *FailureTracker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = DefaultLockoutWindow
	}
	return &FailureTracker{redis: redisClient, config: cfg}
}

// CheckLocked reads both counters in one round trip and returns
// [ErrAccountLocked] if either has reached the threshold. It never mutates.
func (t *FailureTracker) CheckLocked(ctx context.Context, email, ip string) error {
	keys := failureKeys(email, ip)
	if len(keys) == 0 {
		return nil
	}

	values, err := t.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return kv.Unavailable(err)
	}

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		count, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		if t.locked(count) {
			return ErrAccountLocked
		}
	}
	return nil
}

// Increment records one failure for every key and returns the post-increment
// counts in key order (email first, then IP).
func (t *FailureTracker) Increment(ctx context.Context, email, ip string) ([]int64, error) {
	keys := failureKeys(email, ip)
	if len(keys) == 0 {
		return nil, nil
	}

	raw, err := incrementFailuresLua.Run(ctx, t.redis, keys, t.config.LockoutWindow.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, kv.Unavailable(err)
	}
	return raw, nil
}

// IncrementOrErrIfLocked records one failure and returns [ErrAccountLocked]
// when any post-increment count reached the threshold.
func (t *FailureTracker) IncrementOrErrIfLocked(ctx context.Context, email, ip string) error {
	counts, err := t.Increment(ctx, email, ip)
	if err != nil {
		return err
	}
	for _, c := range counts {
		if t.locked(c) {
			return ErrAccountLocked
		}
	}
	return nil
}

// Reset clears both counters. Deleting missing keys is not an error.
func (t *FailureTracker) Reset(ctx context.Context, email, ip string) error {
	keys := failureKeys(email, ip)
	if len(keys) == 0 {
		return nil
	}
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return kv.Unavailable(err)
	}
	return nil
}

// FailureCount returns the current count for a single email or IP.
// Missing keys count as zero.
func (t *FailureTracker) FailureCount(ctx context.Context, emailOrIP string) (int, error) {
	count, err := t.redis.Get(ctx, FailureKey(emailOrIP)).Int64()
	if err != nil {
		if kv.IsMissing(err) {
			return 0, nil
		}
		return 0, kv.Unavailable(err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// MaxFailures returns the effective lockout threshold.
func (t *FailureTracker) MaxFailures() int {
	return t.config.MaxFailures
}

// LockoutWindow returns the effective lockout duration.
func (t *FailureTracker) LockoutWindow() time.Duration {
	return t.config.LockoutWindow
}

func (t *FailureTracker) locked(count int64) bool {
	return count >= int64(t.config.MaxFailures)
}

// NormalizeEmail is the canonical form used for email-derived keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FailureKey returns the store key for an email or IP.
func FailureKey(emailOrIP string) string {
	return failureKeyPrefix + NormalizeEmail(emailOrIP)
}

func failureKeys(email, ip string) []string {
	keys := make([]string, 0, 2)
	if e := NormalizeEmail(email); e != "" {
		keys = append(keys, failureKeyPrefix+e)
	}
	if i := NormalizeEmail(ip); i != "" && (len(keys) == 0 || keys[0] != failureKeyPrefix+i) {
		keys = append(keys, failureKeyPrefix+i)
	}
	return keys
}
