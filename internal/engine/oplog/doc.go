// Package oplog keeps the operations a replica has applied, in application
// order, so they can be replayed to peers that are catching up and looked up
// again when an edit is undone.
//
// The log is append-only. Compact discards operations that every replica is
// known to have applied; peers older than the compaction floor must bootstrap
// from a buffer snapshot instead.
package oplog
