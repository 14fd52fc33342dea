package buffer

import (
	"fmt"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
)

// Anchor is a stable reference to a position between two characters. It
// names a character of an insertion rather than a visible offset, so it keeps
// pointing at the same place while other edits land around it.
//
// A left-biased anchor sits just after byte Offset-1 of Insertion; a
// right-biased anchor sits just before byte Offset. When the referenced
// character is deleted the anchor resolves to where that character was.
type Anchor struct {
	Insertion clock.Local    `json:"insertion"`
	Offset    int            `json:"offset"`
	Bias      operation.Bias `json:"bias"`
}

// Sentinel anchors for the start and end of the document.
var (
	MinAnchor = Anchor{Insertion: clock.End, Bias: operation.BiasLeft}
	MaxAnchor = Anchor{Insertion: clock.End, Bias: operation.BiasRight}
)

// IsMin reports whether a is the start-of-document sentinel.
func (a Anchor) IsMin() bool {
	return a == MinAnchor
}

// IsMax reports whether a is the end-of-document sentinel.
func (a Anchor) IsMax() bool {
	return a == MaxAnchor
}

func (a Anchor) String() string {
	switch {
	case a.IsMin():
		return "anchor(min)"
	case a.IsMax():
		return "anchor(max)"
	}
	return fmt.Sprintf("anchor(%v+%d %v)", a.Insertion, a.Offset, a.Bias)
}

// CreateAnchor returns an anchor for visible offset. A left bias attaches
// to the character before offset, a right bias to the character after it.
func (s *Snapshot) CreateAnchor(offset ByteOffset, bias operation.Bias) (Anchor, error) {
	if offset < 0 || offset > s.Len() || !s.st.visible.IsCharBoundary(offset) {
		return Anchor{}, fmt.Errorf("%w: %d (len %d)", ErrInvalidOffset, offset, s.Len())
	}
	if bias == operation.BiasLeft {
		if offset == 0 {
			return MinAnchor, nil
		}
		_, start, f := s.st.visibleAt(offset - 1)
		return Anchor{Insertion: f.Insertion, Offset: f.Offset + int(offset) - start, Bias: bias}, nil
	}
	if offset == s.Len() {
		return MaxAnchor, nil
	}
	_, start, f := s.st.visibleAt(offset)
	return Anchor{Insertion: f.Insertion, Offset: f.Offset + int(offset) - start, Bias: operation.BiasRight}, nil
}

// Resolve returns the current visible offset of a.
func (s *Snapshot) Resolve(a Anchor) (ByteOffset, error) {
	switch {
	case a.IsMin():
		return 0, nil
	case a.IsMax():
		return s.Len(), nil
	}

	char := a.Offset
	if a.Bias == operation.BiasLeft {
		char--
	}
	if char < 0 {
		return 0, fmt.Errorf("%w: %v", ErrUnknownAnchor, a)
	}
	_, before, f, err := s.st.fragmentAt(a.Insertion, char)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownAnchor, err)
	}
	if !f.Visible() {
		return ByteOffset(before.Visible), nil
	}
	return ByteOffset(before.Visible + a.Offset - f.Offset), nil
}

// CompareAnchors orders two anchors by their resolved offsets; at equal
// offsets a left bias orders first.
func (s *Snapshot) CompareAnchors(a, b Anchor) (int, error) {
	ao, err := s.Resolve(a)
	if err != nil {
		return 0, err
	}
	bo, err := s.Resolve(b)
	if err != nil {
		return 0, err
	}
	switch {
	case ao < bo:
		return -1, nil
	case ao > bo:
		return 1, nil
	case a.Bias == b.Bias:
		return 0, nil
	case a.Bias == operation.BiasLeft:
		return -1, nil
	default:
		return 1, nil
	}
}

// CreateAnchor returns an anchor for offset in the current state.
func (b *Buffer) CreateAnchor(offset ByteOffset, bias operation.Bias) (Anchor, error) {
	return b.Snapshot().CreateAnchor(offset, bias)
}

// Resolve returns the current visible offset of a.
func (b *Buffer) Resolve(a Anchor) (ByteOffset, error) {
	return b.Snapshot().Resolve(a)
}
