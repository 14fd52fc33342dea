// Package rope provides an immutable rope for text storage, built on the
// generic summary tree in package sumtree.
//
// Text is stored in bounded chunks (128-256 bytes) that are split only on
// UTF-8 boundaries. Each chunk carries a TextSummary (bytes, characters,
// UTF-16 units, newlines, last line length) and the tree folds those summaries,
// so offset, line and character conversions are all logarithmic.
//
// Basic usage:
//
//	r := rope.FromString("hello world")
//	r, _ = r.Insert(5, ",")        // "hello, world"
//	r, _ = r.Delete(0, 7)          // "world"
//	p := r.OffsetToPoint(3)        // {Line: 0, Column: 3}
//
// Edits validate offsets first and return ErrInvalidOffset when an offset is
// out of range or falls inside a multi-byte character; the receiver is never
// modified.
package rope
