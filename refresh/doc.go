// Package refresh persists opaque refresh tokens in Redis.
//
// # Key layout
//
//	auth_token:refresh_token:<token>           JSON-encoded Token
//	auth_token:session_refresh_token:<session> token string
//
// Both entries of a token share one TTL. A session has at most one live
// refresh token: Save replaces the session pointer and deletes the token it
// pointed to in the same script.
//
// This package does not sign, verify or rotate anything. Rotation policy lives
// in package tokens.
package refresh
