package buffer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/engine/rope"
)

// state is the replicated document: every fragment ever inserted in document
// order, an index from insertion coordinates to fragments, and a rope holding
// the visible text. Buffer mutates its state under a lock; snapshots hold
// frozen copies.
type state struct {
	fragments fragmentTree
	index     insertionIndex
	visible   rope.Rope
}

func newState(base string) state {
	st := state{
		index:   newInsertionIndex(),
		visible: rope.FromString(base),
	}
	if base != "" {
		f := Fragment{
			ID:        between(minLocator, maxLocator),
			Insertion: clock.Base,
			Text:      base,
			Parent:    clock.End,
		}
		st.fragments = st.fragments.Append(f)
		st.index.set(indexEntry{Insertion: clock.Base, Len: len(base), Fragment: f.ID})
	}
	return st
}

func (st state) frozen() state {
	return state{fragments: st.fragments, index: st.index.copy(), visible: st.visible}
}

// locate finds the fragment with the given locator. It returns the fragment's
// index and the summary of everything before it.
func (st state) locate(id Locator) (int, FragmentSummary, Fragment, bool) {
	i, before := st.fragments.Seek(func(s FragmentSummary) bool {
		return s.MaxID != nil && s.MaxID.Compare(id) >= 0
	})
	f, ok := st.fragments.Get(i)
	if !ok || f.ID.Compare(id) != 0 {
		return 0, FragmentSummary{}, Fragment{}, false
	}
	return i, before, f, true
}

// fragmentAt returns the fragment holding byte offset of insertion id.
func (st state) fragmentAt(id clock.Local, offset int) (int, FragmentSummary, Fragment, error) {
	e, ok := st.index.containing(id, offset)
	if !ok {
		return 0, FragmentSummary{}, Fragment{}, fmt.Errorf("no character %d in insertion %v", offset, id)
	}
	i, before, f, ok := st.locate(e.Fragment)
	if !ok {
		return 0, FragmentSummary{}, Fragment{}, fmt.Errorf("index entry %v+%d points at a missing fragment", id, e.Offset)
	}
	return i, before, f, nil
}

// visibleAt returns the visible fragment holding visible byte offset, and the
// visible offset where it starts. offset must be below the visible length.
func (st state) visibleAt(offset ByteOffset) (int, int, Fragment) {
	i, before := st.fragments.Seek(func(s FragmentSummary) bool {
		return s.Visible > int(offset)
	})
	f, _ := st.fragments.Get(i)
	return i, before.Visible, f
}

// checkRef verifies that (id, offset) addresses a character boundary of a
// known insertion. When allowEnd is set, offset may equal the insertion's
// length.
func (st state) checkRef(id clock.Local, offset int, allowEnd bool) error {
	n, ok := st.index.insertionLen(id)
	if !ok {
		return fmt.Errorf("unknown insertion %v", id)
	}
	if offset > n || offset == n && !allowEnd {
		return fmt.Errorf("offset %d beyond insertion %v of length %d", offset, id, n)
	}
	if offset == n {
		return nil
	}
	_, _, f, err := st.fragmentAt(id, offset)
	if err != nil {
		return err
	}
	if !utf8.RuneStart(f.Text[offset-f.Offset]) {
		return fmt.Errorf("offset %d of insertion %v splits a character", offset, id)
	}
	return nil
}

// splitBefore makes a fragment boundary at byte offset of insertion id and
// returns the index of the fragment starting there. References must be
// checked with checkRef first.
func (st *state) splitBefore(id clock.Local, offset int) int {
	i, _, f, err := st.fragmentAt(id, offset)
	if err != nil {
		panic(err)
	}
	n := offset - f.Offset
	if n == 0 {
		return i
	}

	prev := minLocator
	if p, ok := st.fragments.Get(i - 1); ok {
		prev = p.ID
	}
	prefix, suffix := f.split(n, between(prev, f.ID))
	st.fragments = st.fragments.Splice(i, i+1, prefix, suffix)
	st.index.set(indexEntry{Insertion: id, Offset: prefix.Offset, Len: prefix.Len(), Fragment: prefix.ID})
	st.index.set(indexEntry{Insertion: id, Offset: suffix.Offset, Len: suffix.Len(), Fragment: suffix.ID})
	return i + 1
}

// integrateInsert places an insert operation's text. The insertion goes
// immediately before its anchor character, after any concurrent siblings with
// a later Lamport timestamp and everything nested inside them. Siblings
// therefore read in ascending timestamp order from left to right.
func (st *state) integrateInsert(op operation.Operation) error {
	ins := op.Insert
	if ins.Anchor != clock.End {
		if err := st.checkRef(ins.Anchor, ins.AnchorOffset, false); err != nil {
			return corrupt(op.ID, "bad insert anchor", err)
		}
	}
	if _, known := st.index.insertionLen(op.ID); known {
		return corrupt(op.ID, "insertion already present", nil)
	}

	pos := st.fragments.Len()
	if ins.Anchor != clock.End {
		pos = st.splitBefore(ins.Anchor, ins.AnchorOffset)
	}

	skipped := mapset.NewThreadUnsafeSet[clock.Local]()
	at := 0
	st.fragments.Descend(pos-1, func(i int, f Fragment) bool {
		switch {
		case skipped.Contains(f.Insertion):
			return true
		case skipped.Contains(f.Parent):
			skipped.Add(f.Insertion)
			return true
		case f.Parent == ins.Anchor && f.ParentOffset == ins.AnchorOffset && op.Lamport.Less(f.Lamport):
			skipped.Add(f.Insertion)
			return true
		}
		at = i + 1
		return false
	})

	prev, next := minLocator, maxLocator
	if f, ok := st.fragments.Get(at - 1); ok {
		prev = f.ID
	}
	if f, ok := st.fragments.Get(at); ok {
		next = f.ID
	}
	f := Fragment{
		ID:           between(prev, next),
		Insertion:    op.ID,
		Lamport:      op.Lamport,
		Text:         ins.Text,
		Parent:       ins.Anchor,
		ParentOffset: ins.AnchorOffset,
	}

	offset := st.fragments.SummaryTo(at).Visible
	visible, err := st.visible.Insert(ByteOffset(offset), f.Text)
	if err != nil {
		return fmt.Errorf("insert %v into visible text: %w", op.ID, err)
	}
	st.visible = visible
	st.fragments = st.fragments.Insert(at, f)
	st.index.set(indexEntry{Insertion: op.ID, Len: f.Len(), Fragment: f.ID})
	return nil
}

// integrateDelete tombstones every character covered by a delete operation.
// All ranges are checked before anything is modified.
func (st *state) integrateDelete(op operation.Operation) error {
	for _, r := range op.Delete.Ranges {
		if err := st.checkRef(r.Insertion, r.Start, false); err != nil {
			return corrupt(op.ID, "bad delete range", err)
		}
		if err := st.checkRef(r.Insertion, r.End, true); err != nil {
			return corrupt(op.ID, "bad delete range", err)
		}
	}

	for _, r := range op.Delete.Ranges {
		st.splitBefore(r.Insertion, r.Start)
		if n, _ := st.index.insertionLen(r.Insertion); r.End < n {
			st.splitBefore(r.Insertion, r.End)
		}

		var targets []Locator
		st.index.span(r.Insertion, r.Start, r.End, func(e indexEntry) bool {
			targets = append(targets, e.Fragment)
			return true
		})
		for _, id := range targets {
			i, before, f, ok := st.locate(id)
			if !ok {
				return fmt.Errorf("delete %v: fragment vanished", op.ID)
			}
			if f.Deletions != nil && f.Deletions.Contains(op.ID) {
				continue
			}
			if f.Visible() {
				start := ByteOffset(before.Visible)
				visible, err := st.visible.Delete(start, start+ByteOffset(f.Len()))
				if err != nil {
					return fmt.Errorf("delete %v from visible text: %w", op.ID, err)
				}
				st.visible = visible
			}
			st.fragments = st.fragments.Set(i, f.deletedBy(op.ID))
		}
	}
	return nil
}

// integrate applies a validated operation whose dependencies are present.
func (st *state) integrate(op operation.Operation) error {
	switch op.Kind {
	case operation.KindInsert:
		return st.integrateInsert(op)
	case operation.KindDelete:
		return st.integrateDelete(op)
	}
	return corrupt(op.ID, "unknown kind", operation.ErrInvalid)
}

// anchorFor returns the insert anchor for visible offset: the visible
// character at offset, or the end sentinel at the end of the text.
func (st state) anchorFor(offset ByteOffset) (clock.Local, int) {
	if int(offset) >= int(st.visible.Len()) {
		return clock.End, 0
	}
	_, start, f := st.visibleAt(offset)
	return f.Insertion, f.Offset + int(offset) - start
}

// rangesFor converts the visible range [start, end) into insertion ranges.
func (st state) rangesFor(start, end ByteOffset) []operation.Range {
	if start >= end {
		return nil
	}
	first, pos, _ := st.visibleAt(start)
	var ranges []operation.Range
	st.fragments.Ascend(first, func(_ int, f Fragment) bool {
		if !f.Visible() {
			return true
		}
		lo := max(int(start), pos) - pos
		hi := min(int(end), pos+f.Len()) - pos
		r := operation.Range{Insertion: f.Insertion, Start: f.Offset + lo, End: f.Offset + hi}
		if n := len(ranges); n > 0 && ranges[n-1].Insertion == r.Insertion && ranges[n-1].End == r.Start {
			ranges[n-1].End = r.End
		} else {
			ranges = append(ranges, r)
		}
		pos += f.Len()
		return pos < int(end)
	})
	return ranges
}

// visibleRanges returns the still-visible parts of insertion id.
func (st state) visibleRanges(id clock.Local) []operation.Range {
	n, ok := st.index.insertionLen(id)
	if !ok {
		return nil
	}
	var ranges []operation.Range
	st.index.span(id, 0, n, func(e indexEntry) bool {
		_, _, f, ok := st.locate(e.Fragment)
		if !ok || !f.Visible() {
			return true
		}
		if k := len(ranges); k > 0 && ranges[k-1].End == f.Offset {
			ranges[k-1].End = f.End()
		} else {
			ranges = append(ranges, operation.Range{Insertion: id, Start: f.Offset, End: f.End()})
		}
		return true
	})
	return ranges
}

// insertionText returns bytes [start, end) of insertion id's original text,
// including parts that have since been deleted.
func (st state) insertionText(id clock.Local, start, end int) (string, error) {
	if err := st.checkRef(id, start, false); err != nil {
		return "", err
	}
	if err := st.checkRef(id, end, true); err != nil {
		return "", err
	}
	var sb strings.Builder
	var err error
	st.index.span(id, start, end, func(e indexEntry) bool {
		_, _, f, ok := st.locate(e.Fragment)
		if !ok {
			err = fmt.Errorf("index entry %v+%d points at a missing fragment", id, e.Offset)
			return false
		}
		lo := max(start, f.Offset) - f.Offset
		hi := min(end, f.End()) - f.Offset
		sb.WriteString(f.Text[lo:hi])
		return true
	})
	return sb.String(), err
}

var errInconsistent = errors.New("inconsistent buffer state")

// check verifies that the fragment tree, index and visible rope agree.
func (st state) check() error {
	if err := st.fragments.Check(); err != nil {
		return err
	}
	if err := st.visible.Check(); err != nil {
		return err
	}

	var (
		sb   strings.Builder
		prev Locator
		err  error
	)
	st.fragments.Ascend(0, func(i int, f Fragment) bool {
		switch {
		case f.Text == "":
			err = fmt.Errorf("%w: empty fragment at %d", errInconsistent, i)
		case prev != nil && prev.Compare(f.ID) >= 0:
			err = fmt.Errorf("%w: locators out of order at %d", errInconsistent, i)
		}
		if err != nil {
			return false
		}
		e, ok := st.index.containing(f.Insertion, f.Offset)
		if !ok || e.Offset != f.Offset || e.Len != f.Len() || e.Fragment.Compare(f.ID) != 0 {
			err = fmt.Errorf("%w: fragment %v+%d missing from index", errInconsistent, f.Insertion, f.Offset)
			return false
		}
		if f.Visible() {
			sb.WriteString(f.Text)
		}
		prev = f.ID
		return true
	})
	if err != nil {
		return err
	}
	if st.index.len() != st.fragments.Len() {
		return fmt.Errorf("%w: %d index entries for %d fragments", errInconsistent, st.index.len(), st.fragments.Len())
	}
	if sb.String() != st.visible.String() {
		return fmt.Errorf("%w: visible text differs from fragments", errInconsistent)
	}
	return nil
}
