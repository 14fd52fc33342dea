package sumtree

// Tree structure constants
const (
	// MaxLeafItems is the maximum number of items in a leaf node.
	MaxLeafItems = 16

	// MaxChildren is the maximum children per internal node before splitting.
	MaxChildren = 8
)

// Summary is a monoid over summaries of type S.
// The zero value of S must be the identity element.
type Summary[S any] interface {
	Add(other S) S
}

// Item is anything stored in a Tree. Summary must be cheap: it is called
// whenever a leaf is rebuilt.
type Item[S any] interface {
	Summary() S
}

// node is a node in the B+ tree.
// Leaf nodes (height == 0) hold items; internal nodes hold children.
// Internal nodes always have at least two children.
type node[T Item[S], S Summary[S]] struct {
	height  uint8
	count   int // number of items in this subtree
	summary S   // fold of all item summaries in this subtree

	children []*node[T, S]
	items    []T
}

// newLeaf creates a leaf owning items. Returns nil for an empty slice.
func newLeaf[T Item[S], S Summary[S]](items []T) *node[T, S] {
	if len(items) == 0 {
		return nil
	}
	var sum S
	for _, it := range items {
		sum = sum.Add(it.Summary())
	}
	return &node[T, S]{
		count:   len(items),
		summary: sum,
		items:   items,
	}
}

// newInternal creates an internal node owning children.
// A single child is returned as-is so internal nodes never degenerate.
func newInternal[T Item[S], S Summary[S]](children []*node[T, S]) *node[T, S] {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}

	n := &node[T, S]{
		height:   children[0].height + 1,
		children: children,
	}
	for _, c := range children {
		n.count += c.count
		n.summary = n.summary.Add(c.summary)
	}
	return n
}

func (n *node[T, S]) isLeaf() bool {
	return n.height == 0
}

// packLeaves builds one leaf, or two balanced leaves when items overflow.
func packLeaves[T Item[S], S Summary[S]](items []T) []*node[T, S] {
	if len(items) <= MaxLeafItems {
		return []*node[T, S]{newLeaf[T, S](items)}
	}
	mid := len(items) / 2
	left := make([]T, mid)
	copy(left, items[:mid])
	right := make([]T, len(items)-mid)
	copy(right, items[mid:])
	return []*node[T, S]{newLeaf[T, S](left), newLeaf[T, S](right)}
}

// packInternal builds one internal node, or two when children overflow.
func packInternal[T Item[S], S Summary[S]](children []*node[T, S]) []*node[T, S] {
	if len(children) <= MaxChildren {
		return []*node[T, S]{newInternal(children)}
	}
	mid := len(children) / 2
	left := make([]*node[T, S], mid)
	copy(left, children[:mid])
	right := make([]*node[T, S], len(children)-mid)
	copy(right, children[mid:])
	return []*node[T, S]{newInternal(left), newInternal(right)}
}

// join concatenates two subtrees into one balanced subtree.
func join[T Item[S], S Summary[S]](left, right *node[T, S]) *node[T, S] {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	nodes := joinNodes(left, right)
	if len(nodes) == 1 {
		return nodes[0]
	}
	return newInternal(nodes)
}

// joinNodes merges left and right and returns one or two nodes whose
// height is max(left.height, right.height).
func joinNodes[T Item[S], S Summary[S]](left, right *node[T, S]) []*node[T, S] {
	switch {
	case left.height == right.height:
		if left.isLeaf() {
			items := make([]T, 0, len(left.items)+len(right.items))
			items = append(items, left.items...)
			items = append(items, right.items...)
			return packLeaves[T, S](items)
		}
		children := make([]*node[T, S], 0, len(left.children)+len(right.children))
		children = append(children, left.children...)
		children = append(children, right.children...)
		return packInternal(children)

	case left.height > right.height:
		last := len(left.children) - 1
		merged := joinNodes(left.children[last], right)
		children := make([]*node[T, S], 0, last+len(merged))
		children = append(children, left.children[:last]...)
		children = append(children, merged...)
		return packInternal(children)

	default:
		merged := joinNodes(left, right.children[0])
		children := make([]*node[T, S], 0, len(merged)+len(right.children)-1)
		children = append(children, merged...)
		children = append(children, right.children[1:]...)
		return packInternal(children)
	}
}

// split splits the subtree before item index i.
// Either side may be nil when empty.
func (n *node[T, S]) split(i int) (*node[T, S], *node[T, S]) {
	if i <= 0 {
		return nil, n
	}
	if i >= n.count {
		return n, nil
	}

	if n.isLeaf() {
		left := make([]T, i)
		copy(left, n.items[:i])
		right := make([]T, len(n.items)-i)
		copy(right, n.items[i:])
		return newLeaf[T, S](left), newLeaf[T, S](right)
	}

	before := 0
	for ci, child := range n.children {
		if i < before+child.count {
			l, r := child.split(i - before)
			leftSiblings := make([]*node[T, S], ci)
			copy(leftSiblings, n.children[:ci])
			rightSiblings := make([]*node[T, S], len(n.children)-ci-1)
			copy(rightSiblings, n.children[ci+1:])
			return join(newInternal(leftSiblings), l), join(r, newInternal(rightSiblings))
		}
		before += child.count
	}
	return n, nil
}

// get returns the item at index i within the subtree.
func (n *node[T, S]) get(i int) T {
	for !n.isLeaf() {
		for _, child := range n.children {
			if i < child.count {
				n = child
				break
			}
			i -= child.count
		}
	}
	return n.items[i]
}

// summaryTo folds the summaries of the first i items of the subtree.
func (n *node[T, S]) summaryTo(i int) S {
	var acc S
	for n != nil && i > 0 {
		if i >= n.count {
			return acc.Add(n.summary)
		}
		if n.isLeaf() {
			for _, it := range n.items[:i] {
				acc = acc.Add(it.Summary())
			}
			return acc
		}
		var next *node[T, S]
		for _, child := range n.children {
			if i < child.count {
				next = child
				break
			}
			acc = acc.Add(child.summary)
			i -= child.count
		}
		n = next
	}
	return acc
}

// ascend visits items from index from onward. Returns false if fn stopped.
func (n *node[T, S]) ascend(from, base int, fn func(int, T) bool) bool {
	if n.isLeaf() {
		for k := from; k < len(n.items); k++ {
			if !fn(base+k, n.items[k]) {
				return false
			}
		}
		return true
	}
	for _, child := range n.children {
		if from >= child.count {
			from -= child.count
			base += child.count
			continue
		}
		if !child.ascend(from, base, fn) {
			return false
		}
		base += child.count
		from = 0
	}
	return true
}

// descend visits items from index from down to zero. Returns false if fn stopped.
func (n *node[T, S]) descend(from, base int, fn func(int, T) bool) bool {
	if n.isLeaf() {
		for k := from; k >= 0; k-- {
			if !fn(base+k, n.items[k]) {
				return false
			}
		}
		return true
	}
	// Locate the child holding from, then walk children right to left.
	starts := make([]int, len(n.children))
	acc := 0
	for ci, child := range n.children {
		starts[ci] = acc
		acc += child.count
	}
	for ci := len(n.children) - 1; ci >= 0; ci-- {
		if from < starts[ci] {
			continue
		}
		child := n.children[ci]
		local := from - starts[ci]
		if local >= child.count {
			local = child.count - 1
		}
		if !child.descend(local, base+starts[ci], fn) {
			return false
		}
	}
	return true
}
