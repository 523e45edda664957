// Package cache defines the namespaced response store shared by every strategy,
// the lifecycle manager and the reconciliation worker. A namespace is a named
// collection of response snapshots keyed by canonical request identity (the
// absolute request URL). Drivers (memory/file/sqlite/redis) implement the same
// Store capability so callers can swap the in-memory driver in for tests.
// Entries never expire: a namespace is dropped as a whole or a key is replaced.
package cache
