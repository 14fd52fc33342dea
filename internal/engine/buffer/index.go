package buffer

import (
	"math"

	"github.com/tidwall/btree"

	"github.com/dshills/tandem/internal/engine/clock"
)

// indexEntry maps the slice of an insertion starting at Offset to the
// fragment that currently holds it.
type indexEntry struct {
	Insertion clock.Local
	Offset    int
	Len       int
	Fragment  Locator
}

func (e indexEntry) end() int {
	return e.Offset + e.Len
}

func indexLess(a, b indexEntry) bool {
	if c := a.Insertion.Compare(b.Insertion); c != 0 {
		return c < 0
	}
	return a.Offset < b.Offset
}

// insertionIndex finds fragments by insertion id and offset. Each fragment
// split adds an entry, so an insertion's entries tile its text.
type insertionIndex struct {
	tree *btree.BTreeG[indexEntry]
}

func newInsertionIndex() insertionIndex {
	return insertionIndex{tree: btree.NewBTreeG(indexLess)}
}

// copy returns a copy-on-write clone for a snapshot.
func (ix insertionIndex) copy() insertionIndex {
	return insertionIndex{tree: ix.tree.Copy()}
}

func (ix insertionIndex) set(e indexEntry) {
	ix.tree.Set(e)
}

func (ix insertionIndex) len() int {
	return ix.tree.Len()
}

// containing returns the entry covering byte offset of insertion id.
func (ix insertionIndex) containing(id clock.Local, offset int) (indexEntry, bool) {
	var found indexEntry
	ok := false
	ix.tree.Descend(indexEntry{Insertion: id, Offset: offset}, func(e indexEntry) bool {
		found, ok = e, e.Insertion == id && offset < e.end()
		return false
	})
	return found, ok
}

// insertionLen returns the byte length of insertion id, or false if the id
// is unknown.
func (ix insertionIndex) insertionLen(id clock.Local) (int, bool) {
	var n int
	ok := false
	ix.tree.Descend(indexEntry{Insertion: id, Offset: math.MaxInt}, func(e indexEntry) bool {
		n, ok = e.end(), e.Insertion == id
		return false
	})
	return n, ok
}

// span calls fn for the entries of id overlapping [start, end) in order.
func (ix insertionIndex) span(id clock.Local, start, end int, fn func(indexEntry) bool) {
	first, ok := ix.containing(id, start)
	if !ok {
		return
	}
	ix.tree.Ascend(first, func(e indexEntry) bool {
		if e.Insertion != id || e.Offset >= end {
			return false
		}
		return fn(e)
	})
}

// scan calls fn for every entry in (insertion, offset) order.
func (ix insertionIndex) scan(fn func(indexEntry) bool) {
	ix.tree.Scan(fn)
}
