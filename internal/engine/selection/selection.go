package selection

import (
	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/engine/operation"
)

// Selection is a range held by anchors. Start attaches to the first selected
// character and End to the last, so text typed at either edge by another
// replica is not pulled into the selection. A cursor uses one right-biased
// anchor for both ends.
type Selection struct {
	Start    buffer.Anchor
	End      buffer.Anchor
	Reversed bool
}

// New anchors span in snap.
func New(snap *buffer.Snapshot, span Span) (Selection, error) {
	start, err := snap.CreateAnchor(span.Start(), operation.BiasRight)
	if err != nil {
		return Selection{}, err
	}
	if span.IsEmpty() {
		return Selection{Start: start, End: start}, nil
	}
	end, err := snap.CreateAnchor(span.End(), operation.BiasLeft)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Start: start, End: end, Reversed: span.IsBackward()}, nil
}

// IsCursor reports whether the selection was created empty.
func (s Selection) IsCursor() bool {
	return s.Start == s.End
}

// Resolve returns the selection's current offsets in snap. A selection whose
// text was deleted collapses to where the text was.
func (s Selection) Resolve(snap *buffer.Snapshot) (Span, error) {
	start, err := snap.Resolve(s.Start)
	if err != nil {
		return Span{}, err
	}
	end, err := snap.Resolve(s.End)
	if err != nil {
		return Span{}, err
	}
	end = max(start, end)
	if s.Reversed {
		return Span{Tail: end, Head: start}, nil
	}
	return Span{Tail: start, Head: end}, nil
}
