// Package limiters holds the login failure tracker.
//
// [FailureTracker] keeps one counter per normalized email and one per client
// IP under login_failure:<id>. Every increment runs as a single Lua script
// that bumps both counters and extends their TTL to the lockout window without
// ever shortening it, so concurrent failures are all counted and a lockout
// cannot be cut short by a later failure.
//
// The tracker only counts. Whether a count means "locked" for a given request
// is decided by the login flow.
package limiters
