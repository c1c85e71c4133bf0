package internaldefs

import (
	"github.com/MrEthical07/deskauth"
)

// Def names one exported series.
type Def struct {
	ID   deskauth.MetricID
	Name string
	Help string
}

// AuditDropped is exported next to the engine counters.
var AuditDropped = Def{
	Name: "deskauth_audit_dropped_total",
	Help: "Audit events dropped because the dispatcher buffer was full.",
}

// CounterDefs lists every engine counter in exposition order.
var CounterDefs = []Def{
	{ID: deskauth.MetricLoginSuccess, Name: "deskauth_login_success_total", Help: "Logins that issued a token pair."},
	{ID: deskauth.MetricLoginFailure, Name: "deskauth_login_failure_total", Help: "Login attempts with wrong credentials."},
	{ID: deskauth.MetricLoginLocked, Name: "deskauth_login_locked_total", Help: "Login attempts rejected while locked out."},
	{ID: deskauth.MetricLoginContended, Name: "deskauth_login_contended_total", Help: "Serialized logins that found the login lock held."},
	{ID: deskauth.MetricSessionCreated, Name: "deskauth_session_created_total", Help: "Sessions started by login."},
	{ID: deskauth.MetricRefreshSuccess, Name: "deskauth_refresh_success_total", Help: "Refresh token rotations."},
	{ID: deskauth.MetricRefreshFailure, Name: "deskauth_refresh_failure_total", Help: "Refresh attempts with an unusable token."},
	{ID: deskauth.MetricRefreshConflict, Name: "deskauth_refresh_conflict_total", Help: "Refresh attempts that lost the race for the token."},
	{ID: deskauth.MetricLogout, Name: "deskauth_logout_total", Help: "Session logouts."},
	{ID: deskauth.MetricValidateSuccess, Name: "deskauth_validate_success_total", Help: "Accepted access tokens."},
	{ID: deskauth.MetricValidateExpired, Name: "deskauth_validate_expired_total", Help: "Expired access tokens."},
	{ID: deskauth.MetricValidateInvalid, Name: "deskauth_validate_invalid_total", Help: "Invalid access tokens."},
	{ID: deskauth.MetricBackendError, Name: "deskauth_backend_error_total", Help: "Operations failed by the store or user provider."},
}

// HistogramDefs lists the engine histograms.
var HistogramDefs = []Def{
	{ID: deskauth.MetricValidateLatency, Name: "deskauth_validate_latency_seconds", Help: "CheckAccessToken latency."},
}

// HistogramBounds are the Prometheus le labels of the engine buckets.
var HistogramBounds = [deskauth.HistBucketCount]string{
	"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = [deskauth.HistBucketCount]string{
	"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf",
}

// Cumulative turns per-bucket counts from a snapshot into running totals.
// Missing or short input counts as zero.
func Cumulative(raw []uint64) [deskauth.HistBucketCount]uint64 {
	var out [deskauth.HistBucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
