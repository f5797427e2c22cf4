// Package store is the durability layer under the content cache.
//
// A [Store] is a flat key/value blob store with a synchronous, best-effort
// contract: reads report a miss instead of an error, writes never fail
// outward. Backend failures are logged and otherwise swallowed, so a broken
// disk or bucket degrades the engine to in-memory operation rather than
// breaking content lookups.
//
// Backends:
//   - [Memory]: process-local map, the default for tests and short-lived hosts
//   - [File]: one file per key under a directory, written atomically
//   - [S3]: one object per key under a bucket prefix
//   - [SQLite]: a single kv table in a SQLite database
package store
