package buffer

import (
	"iter"
	"unicode/utf8"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/rope"
)

// Snapshot is an immutable view of a buffer at one version. It is safe for
// concurrent use and unaffected by later edits.
type Snapshot struct {
	st         state
	replica    clock.ReplicaID
	version    clock.Global
	lamport    clock.Lamport
	lineEnding LineEnding
	tabWidth   int
}

// Text returns the visible text.
func (s *Snapshot) Text() string {
	return s.st.visible.String()
}

// TextRange returns the visible text in [start, end), clamped to the text.
func (s *Snapshot) TextRange(start, end ByteOffset) string {
	return s.st.visible.Slice(start, end)
}

// Len returns the visible length in bytes.
func (s *Snapshot) Len() ByteOffset {
	return s.st.visible.Len()
}

// IsEmpty reports whether no text is visible.
func (s *Snapshot) IsEmpty() bool {
	return s.st.visible.IsEmpty()
}

// CharCount returns the number of visible runes.
func (s *Snapshot) CharCount() int {
	return s.st.visible.CharCount()
}

// LineCount returns the number of lines.
func (s *Snapshot) LineCount() uint32 {
	return s.st.visible.LineCount()
}

// LineText returns a line without its terminator.
func (s *Snapshot) LineText(line uint32) string {
	return s.st.visible.LineText(line)
}

// LineStartOffset returns the offset of the first byte of line.
func (s *Snapshot) LineStartOffset(line uint32) ByteOffset {
	return s.st.visible.LineStartOffset(line)
}

// LineEndOffset returns the offset of line's terminator, or the end of text.
func (s *Snapshot) LineEndOffset(line uint32) ByteOffset {
	return s.st.visible.LineEndOffset(line)
}

// ByteAt returns the byte at offset.
func (s *Snapshot) ByteAt(offset ByteOffset) (byte, bool) {
	return s.st.visible.ByteAt(offset)
}

// RuneAt decodes the rune starting at offset. It returns utf8.RuneError and
// size 0 when offset is out of range.
func (s *Snapshot) RuneAt(offset ByteOffset) (rune, int) {
	if offset < 0 || offset >= s.Len() {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(s.st.visible.Slice(offset, min(offset+utf8.UTFMax, s.Len())))
}

// OffsetToPoint converts a byte offset to a line and byte column.
func (s *Snapshot) OffsetToPoint(offset ByteOffset) Point {
	return s.st.visible.OffsetToPoint(offset)
}

// PointToOffset converts a line and byte column to a byte offset.
func (s *Snapshot) PointToOffset(p Point) ByteOffset {
	return s.st.visible.PointToOffset(p)
}

// OffsetToPointUTF16 converts a byte offset to a line and UTF-16 column.
func (s *Snapshot) OffsetToPointUTF16(offset ByteOffset) PointUTF16 {
	p := s.st.visible.OffsetToPoint(offset)
	start := s.st.visible.LineStartOffset(p.Line)
	return PointUTF16{Line: p.Line, Column: utf16Len(s.st.visible.Slice(start, start+ByteOffset(p.Column)))}
}

// PointUTF16ToOffset converts a line and UTF-16 column to a byte offset.
func (s *Snapshot) PointUTF16ToOffset(p PointUTF16) ByteOffset {
	start := s.st.visible.LineStartOffset(p.Line)
	line := s.st.visible.Slice(start, s.st.visible.LineEndOffset(p.Line))
	return start + ByteOffset(utf16ByteOffset(line, p.Column))
}

// OffsetToChar converts a byte offset to a rune index.
func (s *Snapshot) OffsetToChar(offset ByteOffset) (int, error) {
	return s.st.visible.OffsetToChar(offset)
}

// CharToOffset converts a rune index to a byte offset.
func (s *Snapshot) CharToOffset(char int) (ByteOffset, error) {
	return s.st.visible.CharToOffset(char)
}

// Version returns a copy of the snapshot's version vector.
func (s *Snapshot) Version() clock.Global {
	return s.version.Clone()
}

// Lamport returns the replica's Lamport clock at the snapshot.
func (s *Snapshot) Lamport() clock.Lamport {
	return s.lamport
}

// Replica returns the id of the replica that took the snapshot.
func (s *Snapshot) Replica() clock.ReplicaID {
	return s.replica
}

// LineEnding returns the owning buffer's line ending style.
func (s *Snapshot) LineEnding() LineEnding {
	return s.lineEnding
}

// TabWidth returns the owning buffer's tab width.
func (s *Snapshot) TabWidth() int {
	return s.tabWidth
}

// DeletedLen returns the number of tombstoned bytes still retained.
func (s *Snapshot) DeletedLen() int {
	return s.st.fragments.Summary().Deleted
}

// FragmentCount returns the number of fragments, visible or not.
func (s *Snapshot) FragmentCount() int {
	return s.st.fragments.Len()
}

// Fragments returns every fragment in document order.
func (s *Snapshot) Fragments() []Fragment {
	return s.st.fragments.Items()
}

// Chunks iterates the visible text chunk by chunk.
func (s *Snapshot) Chunks() iter.Seq2[ByteOffset, rope.Chunk] {
	return s.st.visible.Chunks()
}

// Lines iterates the visible text line by line.
func (s *Snapshot) Lines() iter.Seq2[uint32, string] {
	return s.st.visible.Lines()
}

// Runes iterates the visible text rune by rune.
func (s *Snapshot) Runes() iter.Seq2[ByteOffset, rune] {
	return s.st.visible.Runes()
}

// Bytes iterates the visible text byte by byte.
func (s *Snapshot) Bytes() iter.Seq2[ByteOffset, byte] {
	return s.st.visible.Bytes()
}
