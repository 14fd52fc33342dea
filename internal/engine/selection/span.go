package selection

import (
	"fmt"

	"github.com/dshills/tandem/internal/engine/buffer"
)

// ByteOffset is an alias for buffer.ByteOffset.
type ByteOffset = buffer.ByteOffset

// Span is a selection resolved to offsets. Tail is where the selection
// started; Head is where the cursor is. Tail == Head is a bare cursor.
type Span struct {
	Tail ByteOffset
	Head ByteOffset
}

// Cursor returns a collapsed span at offset.
func Cursor(offset ByteOffset) Span {
	return Span{Tail: offset, Head: offset}
}

// IsEmpty reports whether the span is a bare cursor.
func (s Span) IsEmpty() bool {
	return s.Tail == s.Head
}

// IsBackward reports whether the head precedes the tail.
func (s Span) IsBackward() bool {
	return s.Head < s.Tail
}

// Start returns the lower bound.
func (s Span) Start() ByteOffset {
	return min(s.Tail, s.Head)
}

// End returns the upper bound.
func (s Span) End() ByteOffset {
	return max(s.Tail, s.Head)
}

// Len returns the selected byte count.
func (s Span) Len() ByteOffset {
	return s.End() - s.Start()
}

// Range returns the span as an ordered range.
func (s Span) Range() buffer.Range {
	return buffer.Range{Start: s.Start(), End: s.End()}
}

// Touches reports whether the spans overlap or are adjacent.
func (s Span) Touches(other Span) bool {
	return s.Range().Touches(other.Range())
}

// Merge returns a span covering both, keeping s's direction.
func (s Span) Merge(other Span) Span {
	r := s.Range().Union(other.Range())
	if s.IsBackward() {
		return Span{Tail: r.End, Head: r.Start}
	}
	return Span{Tail: r.Start, Head: r.End}
}

func (s Span) String() string {
	if s.IsEmpty() {
		return fmt.Sprintf("Cursor(%d)", s.Head)
	}
	dir := "→"
	if s.IsBackward() {
		dir = "←"
	}
	return fmt.Sprintf("Span(%d%s%d)", s.Tail, dir, s.Head)
}
