package buffer

import (
	"cmp"
	"fmt"
	"unicode/utf8"

	"github.com/dshills/tandem/internal/engine/rope"
)

// ByteOffset is a byte position in the visible text.
type ByteOffset = rope.ByteOffset

// Point is a 0-indexed line and byte column.
type Point = rope.Point

// PointUTF16 is a line and column where the column counts UTF-16 code units,
// as used by LSP clients.
type PointUTF16 struct {
	Line   uint32
	Column uint32
}

// String returns the point as (line:col utf16).
func (p PointUTF16) String() string {
	return fmt.Sprintf("(%d:%d utf16)", p.Line, p.Column)
}

// Compare orders points by line, then column.
func (p PointUTF16) Compare(other PointUTF16) int {
	if c := cmp.Compare(p.Line, other.Line); c != 0 {
		return c
	}
	return cmp.Compare(p.Column, other.Column)
}

// Before reports whether p orders before other.
func (p PointUTF16) Before(other PointUTF16) bool {
	return p.Compare(other) < 0
}

// After reports whether p orders after other.
func (p PointUTF16) After(other PointUTF16) bool {
	return p.Compare(other) > 0
}

// utf16Len counts UTF-16 code units in s.
func utf16Len(s string) uint32 {
	var n uint32
	for _, r := range s {
		n += uint32(utf16Width(r))
	}
	return n
}

// utf16ByteOffset returns the byte offset within line of UTF-16 column col,
// clamped to the line length.
func utf16ByteOffset(line string, col uint32) int {
	var units uint32
	for i, r := range line {
		if units >= col {
			return i
		}
		units += uint32(utf16Width(r))
	}
	return len(line)
}

func utf16Width(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}
