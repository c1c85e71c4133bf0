package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/deskauth/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, opts...), mr, rdb
}

func TestAcquireSingle(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()

	tok, err := l.Acquire(ctx, "room:42", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"room:42"}, tok.Keys)
	assert.NotEmpty(t, tok.OwnerID)

	got, err := mr.Get("lock:room:42")
	require.NoError(t, err)
	assert.Equal(t, tok.OwnerID, got)
	assert.Equal(t, 5*time.Second, mr.TTL("lock:room:42"))

	_, err = l.Acquire(ctx, "room:42", 5*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	ok, err := l.Release(ctx, tok)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("lock:room:42"))
}

func TestAcquireRejectsBadInput(t *testing.T) {
	l, _, _ := newTestLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "", time.Second)
	assert.Error(t, err)
	_, err = l.Acquire(ctx, "k", 0)
	assert.Error(t, err)
	_, err = l.AcquireAll(ctx, []string{"", ""}, time.Second)
	assert.Error(t, err)
}

func TestAcquireAllSortsAndDeduplicates(t *testing.T) {
	l, mr, _ := newTestLocker(t)

	tok, err := l.AcquireAll(context.Background(), []string{"login:b", "login:a", "login:b"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"login:a", "login:b"}, tok.Keys)

	for _, k := range tok.Keys {
		v, err := mr.Get(KeyPrefix + k)
		require.NoError(t, err)
		assert.Equal(t, tok.OwnerID, v)
		assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+k))
	}
}

func TestAcquireAllIsAllOrNothing(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()

	held, err := l.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)

	_, err = l.AcquireAll(ctx, []string{"a", "b", "c"}, time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, mr.Exists("lock:a"), "no key may be written on failed acquisition")
	assert.False(t, mr.Exists("lock:c"), "no key may be written on failed acquisition")

	v, err := mr.Get("lock:b")
	require.NoError(t, err)
	assert.Equal(t, held.OwnerID, v)
}

func TestAcquireAllMutualExclusion(t *testing.T) {
	l, _, _ := newTestLocker(t)
	ctx := context.Background()

	const n = 2
	var wg sync.WaitGroup
	tokens := make(chan *Token, n)
	failures := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(reverse bool) {
			defer wg.Done()
			keys := []string{"a", "b"}
			if reverse {
				keys = []string{"b", "a"}
			}
			tok, err := l.AcquireAll(ctx, keys, time.Minute)
			if err != nil {
				failures <- err
				return
			}
			tokens <- tok
		}(i%2 == 1)
	}
	wg.Wait()
	close(tokens)
	close(failures)

	var winners []*Token
	for tok := range tokens {
		winners = append(winners, tok)
	}
	require.Len(t, winners, 1)
	for err := range failures {
		assert.ErrorIs(t, err, ErrNotAcquired)
	}

	ok, err := l.Release(ctx, winners[0])
	require.NoError(t, err)
	require.True(t, ok)

	again, err := l.AcquireAll(ctx, []string{"a", "b"}, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, winners[0].OwnerID, again.OwnerID)
}

func TestReleaseWithForgedOwnerKeepsLock(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()

	tok, err := l.AcquireAll(ctx, []string{"a", "b"}, time.Minute)
	require.NoError(t, err)

	forged := &Token{Keys: tok.Keys, OwnerID: "not-the-owner"}
	ok, err := l.Release(ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("lock:a"))
	assert.True(t, mr.Exists("lock:b"))
}

func TestReleaseAfterExpiryDoesNotStealNewOwner(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("lock:a"))

	fresh, err := l.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)

	ok, err := l.Release(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := mr.Get("lock:a")
	require.NoError(t, err)
	assert.Equal(t, fresh.OwnerID, v)
}

func TestPartialReleaseDeletesOwnedKeys(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()

	tok, err := l.AcquireAll(ctx, []string{"a", "b"}, time.Minute)
	require.NoError(t, err)

	// Simulate "b" expiring and being re-acquired by another process.
	mr.Del("lock:b")
	require.NoError(t, mr.Set("lock:b", "someone-else"))

	ok, err := l.Release(ctx, tok)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("lock:a"))

	v, err := mr.Get("lock:b")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestReleaseNilToken(t *testing.T) {
	l, _, _ := newTestLocker(t)
	ok, err := l.Release(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l, _, _ := newTestLocker(t, WithClock(func() time.Time { return now }))

	tok, err := l.Acquire(context.Background(), "a", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Second), tok.ExpiresAt)
	assert.False(t, tok.Expired(now.Add(9*time.Second)))
	assert.True(t, tok.Expired(now.Add(10*time.Second)))

	var nilTok *Token
	assert.True(t, nilTok.Expired(now))
}

func TestWithLockReleasesOnError(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.WithLock(ctx, []string{"x", "y"}, time.Minute, func(context.Context) error {
		assert.True(t, mr.Exists("lock:x"))
		assert.True(t, mr.Exists("lock:y"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:x"))
	assert.False(t, mr.Exists("lock:y"))
}

func TestWithLockContention(t *testing.T) {
	l, _, _ := newTestLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "y", time.Minute)
	require.NoError(t, err)

	called := false
	err = l.WithLock(ctx, []string{"x", "y"}, time.Minute, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)
}

func TestHoldReleasesOnce(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Hold(ctx, []string{"login:a@b.c", "login:10.0.0.1"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:login:a@b.c"))

	_, err = l.Hold(ctx, []string{"login:a@b.c"}, time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	assert.False(t, mr.Exists("lock:login:a@b.c"))
	assert.False(t, mr.Exists("lock:login:10.0.0.1"))

	next, err := l.Hold(ctx, []string{"login:a@b.c"}, time.Minute)
	require.NoError(t, err)
	release()
	assert.True(t, mr.Exists("lock:login:a@b.c"), "a second call of an old release must not touch a new holder")
	next()
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	l, mr, _ := newTestLocker(t)
	mr.Close()

	_, err := l.AcquireAll(context.Background(), []string{"a", "b"}, time.Minute)
	assert.ErrorIs(t, err, kv.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotAcquired)
}
