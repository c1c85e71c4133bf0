// Package tokens issues and verifies the access/refresh token pair.
//
// An access token is a signed JWT (package jwt) and is never stored. A refresh
// token is an opaque random string persisted by package refresh. Both carry
// the same session id, which is what ties a stateless access token to the
// revocable half of the session: logging out deletes the refresh token for the
// session and lets the access token run out its short TTL.
package tokens
