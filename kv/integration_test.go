//go:build integration

package kv_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/deskauth/internal/limiters"
	"github.com/MrEthical07/deskauth/kv"
	"github.com/MrEthical07/deskauth/lock"
	"github.com/MrEthical07/deskauth/refresh"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a real Redis so the Lua scripts are checked against the
// server's interpreter rather than miniredis.
func startRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	cfg := kv.DefaultConfig()
	cfg.Addrs = []string{endpoint}
	client, err := kv.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRealRedisScripts(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("lock", func(t *testing.T) {
		locker := lock.New(client)

		tok, err := locker.AcquireAll(ctx, []string{"b", "a", "a"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, tok.Keys)

		_, err = locker.Acquire(ctx, "b", time.Minute)
		assert.ErrorIs(t, err, lock.ErrNotAcquired)

		forged := *tok
		forged.OwnerID = "someone-else"
		released, err := locker.Release(ctx, &forged)
		require.NoError(t, err)
		assert.False(t, released)

		released, err = locker.Release(ctx, tok)
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("failure tracker", func(t *testing.T) {
		tracker := limiters.NewFailureTracker(client, limiters.FailureConfig{
			MaxFailures:   5,
			LockoutWindow: 15 * time.Minute,
		})

		const n = 20
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			locked int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := tracker.IncrementOrErrIfLocked(ctx, "real@example.com", "")
				if errors.Is(err, limiters.ErrAccountLocked) {
					mu.Lock()
					locked++
					mu.Unlock()
				} else {
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		count, err := tracker.FailureCount(ctx, "real@example.com")
		require.NoError(t, err)
		assert.Equal(t, n, count)
		assert.Equal(t, n-4, locked)

		ttl := client.PTTL(ctx, limiters.FailureKey("real@example.com")).Val()
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, 15*time.Minute)
	})

	t.Run("refresh store", func(t *testing.T) {
		store := refresh.NewStore(client)
		now := time.Now()
		first := &refresh.Token{Token: "tok-1", UserID: "u1", SessionID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		second := &refresh.Token{Token: "tok-2", UserID: "u1", SessionID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

		replaced, err := store.Save(ctx, first, time.Hour)
		require.NoError(t, err)
		assert.False(t, replaced)
		replaced, err = store.Save(ctx, second, time.Hour)
		require.NoError(t, err)
		assert.True(t, replaced)

		_, err = store.Get(ctx, "tok-1")
		assert.ErrorIs(t, err, refresh.ErrNotFound)

		claimed, err := store.Claim(ctx, "tok-2")
		require.NoError(t, err)
		assert.Equal(t, "s1", claimed.SessionID)

		_, err = store.Claim(ctx, "tok-2")
		assert.ErrorIs(t, err, refresh.ErrNotFound)
		_, err = store.TokenForSession(ctx, "s1")
		assert.ErrorIs(t, err, refresh.ErrNotFound)
	})
}
