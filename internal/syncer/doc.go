// Package syncer decides what content to fetch and when.
//
// Every scope (a tab, the colors collection, the images collection or a
// data store) is fetched by at most one goroutine at a time. A second
// non-forced request for a scope that is already in flight is dropped; a
// forced request is queued as exactly one follow-up fetch. Successful
// fetches replace the scope in the cache wholesale, persist it and emit a
// [Change] on the hub.
//
// [Coordinator.AuthenticateAndSync] assembles the initial load: it
// authenticates, fans out every scope with all-settle semantics, then
// persists once, resolves the language and emits a single initial_sync
// change.
//
// [Refresher] re-runs authentication on an interval and ahead of token
// expiry, backing off on failures.
package syncer
