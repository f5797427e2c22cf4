// Package content holds the in-memory content cache: translations per tab,
// colors, images and data store records.
//
// The cache is a plain data holder. Deciding what to fetch and when belongs
// to the syncer; the cache only guarantees that each scope is replaced
// atomically so readers never observe a half-written tab.
package content
