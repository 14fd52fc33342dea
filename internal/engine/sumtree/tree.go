package sumtree

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrCorruptTree reports a structural invariant violation found by Check.
// It always indicates a bug in this package or its callers, never bad input.
var ErrCorruptTree = errors.New("sumtree: corrupt tree")

// Tree is an immutable sequence of items with aggregated summaries.
// The zero Tree is empty and ready to use.
type Tree[T Item[S], S Summary[S]] struct {
	root *node[T, S]
}

// New returns an empty tree.
func New[T Item[S], S Summary[S]]() Tree[T, S] {
	return Tree[T, S]{}
}

// FromItems builds a balanced tree bottom-up from items.
func FromItems[T Item[S], S Summary[S]](items []T) Tree[T, S] {
	if len(items) == 0 {
		return Tree[T, S]{}
	}

	var nodes []*node[T, S]
	for i := 0; i < len(items); i += MaxLeafItems {
		end := min(i+MaxLeafItems, len(items))
		leafItems := make([]T, end-i)
		copy(leafItems, items[i:end])
		nodes = append(nodes, newLeaf[T, S](leafItems))
	}

	for len(nodes) > 1 {
		var parents []*node[T, S]
		for i := 0; i < len(nodes); i += MaxChildren {
			end := min(i+MaxChildren, len(nodes))
			// Never leave a lone trailing child; borrow from the previous group.
			if end-i == 1 && len(parents) > 0 {
				prev := parents[len(parents)-1]
				children := append(append([]*node[T, S]{}, prev.children...), nodes[i])
				parents = append(parents[:len(parents)-1], packInternal(children)...)
				continue
			}
			children := make([]*node[T, S], end-i)
			copy(children, nodes[i:end])
			parents = append(parents, newInternal(children))
		}
		nodes = parents
	}

	return Tree[T, S]{root: nodes[0]}
}

// Len returns the number of items.
func (t Tree[T, S]) Len() int {
	if t.root == nil {
		return 0
	}
	return t.root.count
}

// IsEmpty returns true if the tree holds no items.
func (t Tree[T, S]) IsEmpty() bool {
	return t.root == nil
}

// Summary returns the fold of all item summaries.
func (t Tree[T, S]) Summary() S {
	if t.root == nil {
		var zero S
		return zero
	}
	return t.root.summary
}

// Height returns the number of levels in the tree. Useful for testing balance.
func (t Tree[T, S]) Height() int {
	if t.root == nil {
		return 0
	}
	return int(t.root.height) + 1
}

// Get returns the item at index i.
func (t Tree[T, S]) Get(i int) (T, bool) {
	if t.root == nil || i < 0 || i >= t.root.count {
		var zero T
		return zero, false
	}
	return t.root.get(i), true
}

// First returns the first item.
func (t Tree[T, S]) First() (T, bool) {
	return t.Get(0)
}

// Last returns the last item.
func (t Tree[T, S]) Last() (T, bool) {
	return t.Get(t.Len() - 1)
}

// Split splits the tree before index i.
func (t Tree[T, S]) Split(i int) (Tree[T, S], Tree[T, S]) {
	if t.root == nil {
		return Tree[T, S]{}, Tree[T, S]{}
	}
	left, right := t.root.split(i)
	return Tree[T, S]{root: left}, Tree[T, S]{root: right}
}

// Concat returns a tree holding t's items followed by other's.
func (t Tree[T, S]) Concat(other Tree[T, S]) Tree[T, S] {
	return Tree[T, S]{root: join(t.root, other.root)}
}

// Slice returns the items in [start, end) as a new tree.
func (t Tree[T, S]) Slice(start, end int) Tree[T, S] {
	start, end = t.clampRange(start, end)
	if start >= end {
		return Tree[T, S]{}
	}
	_, rest := t.Split(start)
	mid, _ := rest.Split(end - start)
	return mid
}

// Insert inserts items before index i.
func (t Tree[T, S]) Insert(i int, items ...T) Tree[T, S] {
	return t.Splice(i, i, items...)
}

// Append adds items at the end.
func (t Tree[T, S]) Append(items ...T) Tree[T, S] {
	return t.Splice(t.Len(), t.Len(), items...)
}

// Remove removes the items in [start, end).
func (t Tree[T, S]) Remove(start, end int) Tree[T, S] {
	return t.Splice(start, end, nil...)
}

// Set replaces the item at index i.
func (t Tree[T, S]) Set(i int, item T) Tree[T, S] {
	if i < 0 || i >= t.Len() {
		return t
	}
	return t.Splice(i, i+1, item)
}

// Splice replaces the items in [start, end) with items.
func (t Tree[T, S]) Splice(start, end int, items ...T) Tree[T, S] {
	start, end = t.clampRange(start, end)
	if start >= end && len(items) == 0 {
		return t
	}

	left, rest := t.Split(start)
	_, right := rest.Split(end - start)
	mid := FromItems[T, S](items)
	return left.Concat(mid).Concat(right)
}

// Seek returns the index of the first item whose inclusive prefix summary
// satisfies pred, together with the summary of all items before it.
// pred must be monotone: once true for a prefix it stays true for longer ones.
// If no prefix satisfies pred, Seek returns (Len(), Summary()).
func (t Tree[T, S]) Seek(pred func(S) bool) (int, S) {
	var acc S
	idx := 0
	n := t.root

descend:
	for n != nil {
		if n.isLeaf() {
			for k, it := range n.items {
				next := acc.Add(it.Summary())
				if pred(next) {
					return idx + k, acc
				}
				acc = next
			}
			return idx + len(n.items), acc
		}
		for _, child := range n.children {
			next := acc.Add(child.summary)
			if pred(next) {
				n = child
				continue descend
			}
			acc = next
			idx += child.count
		}
		break
	}
	return idx, acc
}

// SummaryTo returns the fold of the summaries of items [0, i).
func (t Tree[T, S]) SummaryTo(i int) S {
	return t.root.summaryTo(i)
}

// Ascend calls fn for each item from index from to the end, stopping early
// when fn returns false.
func (t Tree[T, S]) Ascend(from int, fn func(i int, item T) bool) {
	if t.root == nil || from >= t.root.count {
		return
	}
	t.root.ascend(max(from, 0), 0, fn)
}

// Descend calls fn for each item from index from down to zero, stopping early
// when fn returns false.
func (t Tree[T, S]) Descend(from int, fn func(i int, item T) bool) {
	if t.root == nil || from < 0 {
		return
	}
	t.root.descend(min(from, t.root.count-1), 0, fn)
}

// Items returns all items in order. Use sparingly for large trees.
func (t Tree[T, S]) Items() []T {
	items := make([]T, 0, t.Len())
	t.Ascend(0, func(_ int, item T) bool {
		items = append(items, item)
		return true
	})
	return items
}

// Check verifies structural invariants: cached counts and summaries match
// their children, internal nodes have at least two children, and all leaves
// sit at the same depth. It is meant for tests and debug builds.
func (t Tree[T, S]) Check() error {
	if t.root == nil {
		return nil
	}
	return checkNode(t.root)
}

func checkNode[T Item[S], S Summary[S]](n *node[T, S]) error {
	var sum S
	count := 0

	if n.isLeaf() {
		if len(n.items) == 0 {
			return fmt.Errorf("%w: empty leaf", ErrCorruptTree)
		}
		if len(n.items) > MaxLeafItems {
			return fmt.Errorf("%w: leaf holds %d items", ErrCorruptTree, len(n.items))
		}
		for _, it := range n.items {
			sum = sum.Add(it.Summary())
		}
		count = len(n.items)
	} else {
		if len(n.children) < 2 {
			return fmt.Errorf("%w: internal node with %d children", ErrCorruptTree, len(n.children))
		}
		if len(n.children) > MaxChildren {
			return fmt.Errorf("%w: internal node with %d children", ErrCorruptTree, len(n.children))
		}
		for _, c := range n.children {
			if c.height+1 != n.height {
				return fmt.Errorf("%w: child height %d under height %d", ErrCorruptTree, c.height, n.height)
			}
			if err := checkNode(c); err != nil {
				return err
			}
			sum = sum.Add(c.summary)
			count += c.count
		}
	}

	if count != n.count {
		return fmt.Errorf("%w: count %d, cached %d", ErrCorruptTree, count, n.count)
	}
	if !reflect.DeepEqual(sum, n.summary) {
		return fmt.Errorf("%w: summary %+v, cached %+v", ErrCorruptTree, sum, n.summary)
	}
	return nil
}

func (t Tree[T, S]) clampRange(start, end int) (int, int) {
	n := t.Len()
	start = max(0, min(start, n))
	end = max(start, min(end, n))
	return start, end
}
