package rope

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// Chunks yields each chunk with the byte offset it starts at.
func (r Rope) Chunks() iter.Seq2[ByteOffset, Chunk] {
	return func(yield func(ByteOffset, Chunk) bool) {
		var off ByteOffset
		r.tree.Ascend(0, func(_ int, c Chunk) bool {
			if !yield(off, c) {
				return false
			}
			off += ByteOffset(c.Len())
			return true
		})
	}
}

// Lines yields each line number with the line's text, newline excluded.
// There are always LineCount lines, so an empty rope yields one empty line.
func (r Rope) Lines() iter.Seq2[uint32, string] {
	return func(yield func(uint32, string) bool) {
		var (
			line uint32
			cur  strings.Builder
		)
		for _, c := range r.Chunks() {
			s := c.String()
			for {
				i := strings.IndexByte(s, '\n')
				if i < 0 {
					cur.WriteString(s)
					break
				}
				cur.WriteString(s[:i])
				if !yield(line, cur.String()) {
					return
				}
				cur.Reset()
				line++
				s = s[i+1:]
			}
		}
		yield(line, cur.String())
	}
}

// Runes yields each character with its byte offset.
func (r Rope) Runes() iter.Seq2[ByteOffset, rune] {
	return func(yield func(ByteOffset, rune) bool) {
		for off, c := range r.Chunks() {
			// Chunks never split a character.
			for i, ch := range c.String() {
				if !yield(off+ByteOffset(i), ch) {
					return
				}
			}
		}
	}
}

// Bytes yields each byte with its offset.
func (r Rope) Bytes() iter.Seq2[ByteOffset, byte] {
	return func(yield func(ByteOffset, byte) bool) {
		for off, c := range r.Chunks() {
			s := c.String()
			for i := 0; i < len(s); i++ {
				if !yield(off+ByteOffset(i), s[i]) {
					return
				}
			}
		}
	}
}

// validChunks reports whether every chunk holds whole characters.
func (r Rope) validChunks() bool {
	for _, c := range r.Chunks() {
		if !utf8.ValidString(c.String()) {
			return false
		}
	}
	return true
}
