// Package metrics provides lock-free counters and a latency histogram for the
// authentication engine.
//
// Counters are stored in cache-line-padded uint64 slots and incremented with
// [sync/atomic.AddUint64]. The access-check histogram uses 8 fixed buckets
// (≤5ms … +Inf). Neither allocates on the write path.
//
// Export (Prometheus, OTel) lives in metrics/export and reads [Snapshot]
// values. This package performs no I/O and keeps no global registry.
package metrics
