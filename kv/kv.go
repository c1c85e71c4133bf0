package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable marks store-level failures (timeouts, connection loss, script
// errors). It is never a domain outcome: callers use errors.Is to tell "the
// store is down" apart from lockouts or invalid tokens.
var ErrUnavailable = errors.New("kv store unavailable")

// Config describes how to reach the shared key-value store.
//
// All timeouts are enforced by the client; components built on top of the
// store never add their own timers.
//
// The lock, failure counter and refresh store run scripts over keys that do
// not share a hash slot, so the store must be a single primary: one address,
// or a set of sentinel addresses together with MasterName.
type Config struct {
	Addrs        []string
	// MasterName selects sentinel failover. Addrs then lists the sentinels.
	MasterName   string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a single-node localhost configuration with bounded
// round-trip timeouts.
func DefaultConfig() Config {
	return Config{
		Addrs:        []string{"127.0.0.1:6379"},
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
}

// Validate checks that the configuration can produce a usable client.
func (c Config) Validate() error {
	if len(c.Addrs) == 0 {
		return errors.New("kv: at least one address is required")
	}
	for _, addr := range c.Addrs {
		if strings.TrimSpace(addr) == "" {
			return errors.New("kv: empty address")
		}
	}
	if len(c.Addrs) > 1 && strings.TrimSpace(c.MasterName) == "" {
		return errors.New("kv: several addresses need MasterName; cluster mode is not supported")
	}
	if c.DB < 0 {
		return errors.New("kv: DB must be >= 0")
	}
	if c.PoolSize < 0 {
		return errors.New("kv: PoolSize must be >= 0")
	}
	if c.DialTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("kv: timeouts must be > 0")
	}
	return nil
}

// Options converts the configuration into go-redis universal options. A
// single address yields a plain client and MasterName a sentinel failover
// client. Options never describe a cluster client for a config that passed
// Validate.
func (c Config) Options() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        append([]string(nil), c.Addrs...),
		MasterName:   strings.TrimSpace(c.MasterName),
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Open builds a client from cfg and verifies connectivity with PING.
func Open(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewUniversalClient(cfg.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, Unavailable(err)
	}
	return client, nil
}

// Unavailable wraps a store error into ErrUnavailable. redis.Nil is not a
// failure and must be handled by the caller before wrapping.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// IsMissing reports whether err is the store's "no such key" reply.
func IsMissing(err error) bool {
	return errors.Is(err, redis.Nil)
}
