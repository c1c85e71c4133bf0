package deskauth

import (
	internalmetrics "github.com/MrEthical07/deskauth/internal/metrics"
)

// MetricID identifies one engine counter or histogram.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess counts logins that issued a token pair.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure counts wrong-credential attempts, including the one that locks.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricLoginLocked counts logins rejected with ACCOUNT_LOCKED.
	MetricLoginLocked = internalmetrics.MetricLoginLocked
	// MetricLoginContended counts LoginWithLock calls that lost the lock race.
	MetricLoginContended = internalmetrics.MetricLoginContended
	// MetricSessionCreated counts new sessions.
	MetricSessionCreated = internalmetrics.MetricSessionCreated
	// MetricRefreshSuccess counts successful rotations.
	MetricRefreshSuccess = internalmetrics.MetricRefreshSuccess
	// MetricRefreshFailure counts refreshes rejected with INVALID_TOKEN.
	MetricRefreshFailure = internalmetrics.MetricRefreshFailure
	// MetricRefreshConflict counts refreshes rejected with CONFLICT.
	MetricRefreshConflict = internalmetrics.MetricRefreshConflict
	// MetricLogout counts Logout calls that reached the store.
	MetricLogout = internalmetrics.MetricLogout
	// MetricValidateSuccess counts accepted access tokens.
	MetricValidateSuccess = internalmetrics.MetricValidateSuccess
	// MetricValidateExpired counts access tokens rejected with TOKEN_EXPIRED.
	MetricValidateExpired = internalmetrics.MetricValidateExpired
	// MetricValidateInvalid counts access tokens rejected with INVALID_TOKEN.
	MetricValidateInvalid = internalmetrics.MetricValidateInvalid
	// MetricBackendError counts operations failed by the store or user provider.
	MetricBackendError = internalmetrics.MetricBackendError
	// MetricValidateLatency is the CheckAccessToken latency histogram.
	MetricValidateLatency = internalmetrics.MetricValidateLatency
)

// HistBucketCount is the number of latency buckets. Bucket upper bounds are
// 5, 10, 25, 50, 100, 250 and 500 ms; the last bucket is open.
const HistBucketCount = internalmetrics.HistBucketCount

// Metrics holds atomic counters and the optional latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics]. When cfg.Enabled is false every operation
// is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
