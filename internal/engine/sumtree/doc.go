// Package sumtree provides a persistent, summary-augmented B+ tree.
//
// A Tree holds an ordered sequence of items. Every node caches the monoid
// fold of the summaries of all items below it, so positional queries such as
// "which item contains the k-th byte" or "where does line n start" descend
// a single root-to-leaf path:
//
//	idx, before := tree.Seek(func(s TextSummary) bool { return s.Bytes > offset })
//
// Trees are values. Every edit path-copies the nodes it touches and returns a
// new Tree; nodes reachable from an older Tree are never modified, so a Tree
// can be handed to other goroutines as a snapshot without synchronization.
//
// The zero value of the summary type must be the identity of its Add
// operation, and Add must be associative.
package sumtree
