// Package buffer implements a replicated text buffer that converges without
// coordination. Each replica edits its own Buffer; edits become operations
// that are sent to every other replica and applied there in any order.
//
// Text is stored as fragments of insertions. Characters are never removed,
// only hidden, so every operation can name the characters it refers to by
// insertion id and byte offset no matter what else has happened. The
// visible text is mirrored in a rope for fast queries.
//
// The package provides:
//
//   - Local Insert, Delete and Replace producing operations to broadcast
//   - Apply for remote operations with causal buffering and deduplication
//   - Anchors that track positions across concurrent edits
//   - Revert for undo and redo of earlier operations
//   - Lock-free snapshots with line, UTF-16 and rune coordinate conversion
//   - JSON snapshots so new replicas can join an existing document
//
// Basic usage:
//
//	a, _ := buffer.New(1, "hello")
//	b, _ := buffer.New(2, "hello")
//
//	ops, _ := a.Insert(5, " world")
//	b.Apply(ops...)
//	// a.Text() == b.Text() == "hello world"
package buffer
