// Package internal holds identifier helpers shared by the engine packages.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: login, refresh, logout and validate orchestration
//   - limiters: the Redis-backed login failure tracker
//   - metrics: lock-free counters and the validate latency histogram
//   - slogx: logger construction, context propagation, HTTP request logging
//
// Nothing here appears in the public deskauth API.
package internal
