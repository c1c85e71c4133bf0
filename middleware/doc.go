// Package middleware adapts the deskauth engine to net/http.
//
//   - [ClientIP] puts the caller's IP where Login looks for it.
//   - [Guard] verifies the bearer access token and stores it in the context.
//   - [Throttle] is a per-IP token bucket in front of login and refresh.
//   - [WriteError] renders engine errors as JSON with a matching status.
//
// Authentication decisions stay in the engine. This package only translates
// HTTP to engine calls and engine errors back to HTTP; it never touches
// Redis and never renders error details.
package middleware
