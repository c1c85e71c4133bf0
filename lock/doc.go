// Package lock provides distributed, ownership-token locks on top of the shared
// Redis store.
//
// A lock is a key `lock:<name>` whose value is a random owner id and whose TTL is
// chosen by the caller. Only the holder of the owner id can delete it, and the
// compare-and-delete runs inside a Lua script so there is no window between the
// check and the delete. Multi-key acquisition is all-or-nothing and always
// works on a sorted key set.
//
// Expiry is the only cancellation mechanism: nothing in this package runs
// timers or renews leases.
package lock
