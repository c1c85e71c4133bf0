// Package deskauth is the authentication and brute-force protection core of a
// customer-support chat backend.
//
// [Engine] logs users in against a caller-supplied [UserProvider], locks out
// an email or IP after repeated failures, issues short-lived JWT access
// tokens with single-use refresh tokens, rotates and revokes those refresh
// tokens, and verifies access tokens. Build one with [New]:
//
//	engine, err := deskauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserProvider(users).
//		Build()
//
// # Architecture boundaries
//
// The root package is the public surface: [Engine], [Builder], [Config], the
// typed [Error] taxonomy and value types. Locks (lock), failure counters
// (internal/limiters), token signing (jwt), refresh persistence (refresh)
// and token lifecycle (tokens) are separate packages; flow orchestration
// lives in internal/flows. Package errors are mapped to [Error] codes here
// and nowhere else.
//
// Infrastructure failures are never folded into domain codes: they match
// [ErrUnavailable] and are returned unchanged.
//
// # Concurrency
//
// Engine methods are safe to call from many goroutines and many processes.
// Every cross-request decision is a single Redis command or Lua script.
// [Engine.Login] accepts a small race around the failure threshold;
// [Engine.LoginWithLock] serializes attempts per email and IP.
package deskauth
