package buffer

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/sumtree"
)

// Fragment is a contiguous run of one insertion's text. Fragments are never
// removed; deleting text records the deleting operation in Deletions and
// hides the fragment. Fragments are immutable once stored in the tree.
type Fragment struct {
	ID Locator

	Insertion clock.Local
	Lamport   clock.Lamport
	// Offset is where Text starts within the insertion's text.
	Offset int
	Text   string

	// Parent and ParentOffset are the insertion's anchor: the character the
	// insertion was placed immediately before.
	Parent       clock.Local
	ParentOffset int

	Deletions mapset.Set[clock.Local]
}

// Visible reports whether no operation has deleted the fragment.
func (f Fragment) Visible() bool {
	return f.Deletions == nil || f.Deletions.Cardinality() == 0
}

// Len returns the fragment's byte length.
func (f Fragment) Len() int {
	return len(f.Text)
}

// End returns the insertion offset just past the fragment.
func (f Fragment) End() int {
	return f.Offset + len(f.Text)
}

// Summary implements sumtree.Item.
func (f Fragment) Summary() FragmentSummary {
	s := FragmentSummary{MaxID: f.ID}
	if f.Visible() {
		s.Visible = len(f.Text)
	} else {
		s.Deleted = len(f.Text)
	}
	return s
}

// split cuts f at byte n of its text. The prefix receives id; the suffix
// keeps f.ID so the tree stays ordered.
func (f Fragment) split(n int, id Locator) (Fragment, Fragment) {
	prefix, suffix := f, f
	prefix.ID = id
	prefix.Text = f.Text[:n]
	suffix.Offset = f.Offset + n
	suffix.Text = f.Text[n:]
	return prefix, suffix
}

// deletedBy returns a copy of f with op added to its deletions.
func (f Fragment) deletedBy(op clock.Local) Fragment {
	set := mapset.NewThreadUnsafeSet[clock.Local]()
	if f.Deletions != nil {
		set = f.Deletions.Clone()
	}
	set.Add(op)
	f.Deletions = set
	return f
}

// deletions returns the deleting operations in ascending order.
func (f Fragment) deletions() []clock.Local {
	if f.Deletions == nil {
		return nil
	}
	ids := f.Deletions.ToSlice()
	slices.SortFunc(ids, clock.Local.Compare)
	return ids
}

// FragmentSummary aggregates a run of fragments.
type FragmentSummary struct {
	Visible int
	Deleted int
	// MaxID is the locator of the last fragment in the run; nil when empty.
	MaxID Locator
}

// Add implements sumtree.Summary.
func (s FragmentSummary) Add(other FragmentSummary) FragmentSummary {
	if other.MaxID == nil {
		return s
	}
	if s.MaxID == nil {
		return other
	}
	return FragmentSummary{
		Visible: s.Visible + other.Visible,
		Deleted: s.Deleted + other.Deleted,
		MaxID:   other.MaxID,
	}
}

type fragmentTree = sumtree.Tree[Fragment, FragmentSummary]
