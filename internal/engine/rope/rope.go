package rope

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dshills/tandem/internal/engine/sumtree"
)

// ErrInvalidOffset is returned when an offset is out of range or does not
// fall on a character boundary.
var ErrInvalidOffset = errors.New("rope: invalid offset")

type chunkTree = sumtree.Tree[Chunk, TextSummary]

// Rope is an immutable rope data structure for efficient text storage.
// Operations return new Rope values; the original is never modified.
// The zero Rope is empty and ready to use.
type Rope struct {
	tree chunkTree
}

// New creates an empty rope.
func New() Rope {
	return Rope{}
}

// FromString creates a rope from a string.
func FromString(s string) Rope {
	return FromChunks(splitIntoChunks(s))
}

// FromChunks creates a rope directly from chunks. Empty chunks are dropped.
func FromChunks(chunks []Chunk) Rope {
	kept := chunks[:0:0]
	for _, c := range chunks {
		if !c.IsEmpty() {
			kept = append(kept, c)
		}
	}
	return Rope{tree: sumtree.FromItems[Chunk, TextSummary](kept)}
}

// FromReader creates a rope from an io.Reader.
func FromReader(r io.Reader) (Rope, error) {
	var b Builder
	if _, err := b.ReadFrom(r); err != nil {
		return Rope{}, err
	}
	return b.Build(), nil
}

// Len returns the total byte length.
func (r Rope) Len() ByteOffset {
	return r.tree.Summary().Bytes
}

// CharCount returns the number of Unicode characters.
func (r Rope) CharCount() int {
	return r.tree.Summary().Chars
}

// LineCount returns the number of lines (newlines + 1).
func (r Rope) LineCount() uint32 {
	return r.tree.Summary().Lines + 1
}

// IsEmpty returns true if the rope contains no text.
func (r Rope) IsEmpty() bool {
	return r.tree.IsEmpty()
}

// Summary returns the aggregated metrics for the entire rope.
func (r Rope) Summary() TextSummary {
	return r.tree.Summary()
}

// String returns the full text as a string.
// Use sparingly for large ropes.
func (r Rope) String() string {
	var sb strings.Builder
	sb.Grow(int(r.Len()))
	r.tree.Ascend(0, func(_ int, c Chunk) bool {
		sb.WriteString(c.data)
		return true
	})
	return sb.String()
}

// Slice returns the text in the byte range [start, end), clamped to the rope.
func (r Rope) Slice(start, end ByteOffset) string {
	start = max(start, 0)
	end = min(end, r.Len())
	if start >= end {
		return ""
	}

	var sb strings.Builder
	sb.Grow(int(end - start))
	idx, before := r.seekByte(start)
	pos := before.Bytes
	r.tree.Ascend(idx, func(_ int, c Chunk) bool {
		lo := max(start-pos, 0)
		hi := min(end-pos, ByteOffset(len(c.data)))
		sb.WriteString(c.data[lo:hi])
		pos += ByteOffset(len(c.data))
		return pos < end
	})
	return sb.String()
}

// ByteAt returns the byte at the given offset.
// Returns 0 and false if offset is out of range.
func (r Rope) ByteAt(offset ByteOffset) (byte, bool) {
	if offset < 0 || offset >= r.Len() {
		return 0, false
	}
	idx, before := r.seekByte(offset)
	c, _ := r.tree.Get(idx)
	return c.data[offset-before.Bytes], true
}

// IsCharBoundary reports whether offset falls between two characters.
// Both ends of the rope are boundaries.
func (r Rope) IsCharBoundary(offset ByteOffset) bool {
	if offset == 0 || offset == r.Len() {
		return true
	}
	b, ok := r.ByteAt(offset)
	return ok && utf8.RuneStart(b)
}

// Insert inserts text at the given byte offset.
// Returns a new rope; the original is unchanged.
func (r Rope) Insert(offset ByteOffset, text string) (Rope, error) {
	if err := r.checkOffset(offset); err != nil {
		return r, err
	}
	if len(text) == 0 {
		return r, nil
	}
	if r.tree.IsEmpty() {
		return FromString(text), nil
	}

	// Merge the text into the chunk that holds offset (or the last chunk when
	// inserting at the end) and re-chunk the result.
	idx, before := r.seekByte(offset)
	if idx == r.tree.Len() {
		idx--
		before = r.tree.SummaryTo(idx)
	}
	c, _ := r.tree.Get(idx)
	local := offset - before.Bytes
	merged := c.data[:local] + text + c.data[local:]

	return Rope{tree: r.tree.Splice(idx, idx+1, splitIntoChunks(merged)...)}, nil
}

// Delete removes text in the byte range [start, end).
// Returns a new rope; the original is unchanged.
func (r Rope) Delete(start, end ByteOffset) (Rope, error) {
	if err := r.checkRange(start, end); err != nil {
		return r, err
	}
	if start == end {
		return r, nil
	}

	first, firstBefore := r.seekByte(start)
	last, lastBefore := r.seekByte(end - 1)
	fc, _ := r.tree.Get(first)
	lc, _ := r.tree.Get(last)

	merged := fc.data[:start-firstBefore.Bytes] + lc.data[end-lastBefore.Bytes:]

	// Absorb the following chunk when the remainder is too small to stand alone.
	if len(merged) < MinChunkSize && last+1 < r.tree.Len() {
		next, _ := r.tree.Get(last + 1)
		merged += next.data
		last++
	}

	return Rope{tree: r.tree.Splice(first, last+1, splitIntoChunks(merged)...)}, nil
}

// Replace replaces text in the byte range [start, end) with new text.
func (r Rope) Replace(start, end ByteOffset, text string) (Rope, error) {
	if err := r.checkRange(start, end); err != nil {
		return r, err
	}
	deleted, err := r.Delete(start, end)
	if err != nil {
		return r, err
	}
	return deleted.Insert(start, text)
}

// Split splits the rope at offset, returning [0, offset) and [offset, end).
func (r Rope) Split(offset ByteOffset) (Rope, Rope, error) {
	if err := r.checkOffset(offset); err != nil {
		return r, Rope{}, err
	}

	idx, before := r.seekByte(offset)
	if before.Bytes == offset {
		l, rt := r.tree.Split(idx)
		return Rope{tree: l}, Rope{tree: rt}, nil
	}

	c, _ := r.tree.Get(idx)
	lc, rc := c.Split(int(offset - before.Bytes))
	l, rest := r.tree.Split(idx)
	_, rt := rest.Split(1)
	return Rope{tree: l.Append(lc)}, Rope{tree: rt.Insert(0, rc)}, nil
}

// Concat concatenates two ropes.
// Small chunks meeting at the seam are merged.
func (r Rope) Concat(other Rope) Rope {
	if r.tree.IsEmpty() {
		return other
	}
	if other.tree.IsEmpty() {
		return r
	}

	last, _ := r.tree.Last()
	first, _ := other.tree.First()
	if last.Len() < MinChunkSize || first.Len() < MinChunkSize {
		left := r.tree.Remove(r.tree.Len()-1, r.tree.Len())
		right := other.tree.Remove(0, 1)
		mid := sumtree.FromItems[Chunk, TextSummary](last.Append(first))
		return Rope{tree: left.Concat(mid).Concat(right)}
	}
	return Rope{tree: r.tree.Concat(other.tree)}
}

// LineStartOffset returns the byte offset of the start of the given line.
// Lines past the end map to Len().
func (r Rope) LineStartOffset(line uint32) ByteOffset {
	if line == 0 {
		return 0
	}
	if line >= r.LineCount() {
		return r.Len()
	}

	// The line starts right after newline number `line`.
	idx, before := r.tree.Seek(func(s TextSummary) bool { return s.Lines >= line })
	c, _ := r.tree.Get(idx)
	pos := FindNthNewline(c.data, line-before.Lines)
	return before.Bytes + ByteOffset(pos) + 1
}

// LineEndOffset returns the byte offset of the end of the given line
// (not including the newline character).
func (r Rope) LineEndOffset(line uint32) ByteOffset {
	if line+1 >= r.LineCount() {
		return r.Len()
	}
	return r.LineStartOffset(line+1) - 1
}

// LineText returns the text of the given line (not including newline).
func (r Rope) LineText(line uint32) string {
	return r.Slice(r.LineStartOffset(line), r.LineEndOffset(line))
}

// OffsetToPoint converts a byte offset to a line/column position.
// Offsets are clamped to the rope.
func (r Rope) OffsetToPoint(offset ByteOffset) Point {
	offset = min(max(offset, 0), r.Len())
	if offset == r.Len() {
		sum := r.tree.Summary()
		return Point{Line: sum.Lines, Column: sum.LastLineLen}
	}

	idx, before := r.seekByte(offset)
	c, _ := r.tree.Get(idx)
	p := pointInString(c.data, int(offset-before.Bytes))
	if p.Line == 0 {
		p.Column += before.LastLineLen
	}
	p.Line += before.Lines
	return p
}

// PointToOffset converts a line/column position to a byte offset.
// Columns past the end of the line clamp to the line end.
func (r Rope) PointToOffset(point Point) ByteOffset {
	lineStart := r.LineStartOffset(point.Line)
	lineEnd := r.LineEndOffset(point.Line)
	if ByteOffset(point.Column) >= lineEnd-lineStart {
		return lineEnd
	}
	return lineStart + ByteOffset(point.Column)
}

// OffsetToChar converts a byte offset to a character index.
func (r Rope) OffsetToChar(offset ByteOffset) (int, error) {
	if err := r.checkOffset(offset); err != nil {
		return 0, err
	}
	if offset == r.Len() {
		return r.CharCount(), nil
	}
	idx, before := r.seekByte(offset)
	c, _ := r.tree.Get(idx)
	return before.Chars + utf8.RuneCountInString(c.data[:offset-before.Bytes]), nil
}

// CharToOffset converts a character index to a byte offset.
func (r Rope) CharToOffset(char int) (ByteOffset, error) {
	total := r.CharCount()
	if char < 0 || char > total {
		return 0, fmt.Errorf("%w: character %d of %d", ErrInvalidOffset, char, total)
	}
	if char == total {
		return r.Len(), nil
	}

	idx, before := r.tree.Seek(func(s TextSummary) bool { return s.Chars > char })
	c, _ := r.tree.Get(idx)
	remaining := char - before.Chars
	for i := range c.data {
		if remaining == 0 {
			return before.Bytes + ByteOffset(i), nil
		}
		remaining--
	}
	return before.Bytes + ByteOffset(len(c.data)), nil
}

// Height returns the height of the underlying tree.
func (r Rope) Height() int {
	return r.tree.Height()
}

// ChunkCount returns the total number of chunks in the rope.
func (r Rope) ChunkCount() int {
	return r.tree.Len()
}

// Check verifies the consistency of the underlying tree.
func (r Rope) Check() error {
	if err := r.tree.Check(); err != nil {
		return err
	}
	if !r.validChunks() {
		return errors.New("rope: chunk splits a character")
	}
	return nil
}

// Equals returns true if two ropes contain the same text.
// It compares content, not structure.
func (r Rope) Equals(other Rope) bool {
	if r.Len() != other.Len() {
		return false
	}
	for off, c := range r.Chunks() {
		if other.Slice(off, off+ByteOffset(c.Len())) != c.String() {
			return false
		}
	}
	return true
}

// seekByte returns the index of the chunk containing offset and the summary
// of the chunks before it. For offset == Len it returns the chunk count.
func (r Rope) seekByte(offset ByteOffset) (int, TextSummary) {
	return r.tree.Seek(func(s TextSummary) bool { return s.Bytes > offset })
}

func (r Rope) checkOffset(offset ByteOffset) error {
	if offset < 0 || offset > r.Len() {
		return fmt.Errorf("%w: %d out of range [0, %d]", ErrInvalidOffset, offset, r.Len())
	}
	if !r.IsCharBoundary(offset) {
		return fmt.Errorf("%w: %d is inside a character", ErrInvalidOffset, offset)
	}
	return nil
}

func (r Rope) checkRange(start, end ByteOffset) error {
	if start > end {
		return fmt.Errorf("%w: range [%d, %d) is reversed", ErrInvalidOffset, start, end)
	}
	if err := r.checkOffset(start); err != nil {
		return err
	}
	return r.checkOffset(end)
}
