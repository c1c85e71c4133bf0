// Package kv is the shared key-value store adapter used by every stateful part of
// deskauth.
//
// It owns client construction (addresses, pool size, bounded timeouts) and the
// infrastructure error contract: anything that goes wrong talking to Redis is
// wrapped in [ErrUnavailable] so that callers can separate "the store is down"
// from domain outcomes.
//
// # Deployment
//
// Scripts in lock, internal/limiters and refresh touch keys from different
// namespaces in one call, which a Redis cluster rejects with CROSSSLOT.
// [Config.Validate] therefore accepts one address, or several sentinel
// addresses with a MasterName, and never a cluster.
//
// # Key namespaces
//
// Components never share keys. Prefixes in use:
//   - lock:                              lock ownership markers (package lock)
//   - login_failure:                     failure counters (internal/limiters)
//   - auth_token:refresh_token:          refresh tokens by value (package refresh)
//   - auth_token:session_refresh_token:  refresh token pointer by session (package refresh)
//
// # What this package must NOT do
//
//   - Implement locking, counting, or token semantics.
//   - Hide store failures behind domain errors.
package kv
