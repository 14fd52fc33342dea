package rope

import (
	"strings"
	"unicode/utf8"
)

// ByteOffset is a byte position in a rope.
type ByteOffset int

// Point is a 0-indexed line and column. Column counts bytes.
type Point struct {
	Line   uint32
	Column uint32
}

// TextSummary is the measure the chunk tree aggregates. The zero value is
// the identity of Add.
type TextSummary struct {
	Bytes      ByteOffset
	Chars      int
	UTF16Units int

	// Lines counts newlines; LastLineLen is the byte length after the last one.
	Lines       uint32
	LastLineLen uint32

	NonASCII bool
}

// Add returns the summary of s's text followed by other's. It is
// associative.
func (s TextSummary) Add(other TextSummary) TextSummary {
	sum := TextSummary{
		Bytes:       s.Bytes + other.Bytes,
		Chars:       s.Chars + other.Chars,
		UTF16Units:  s.UTF16Units + other.UTF16Units,
		Lines:       s.Lines + other.Lines,
		LastLineLen: other.LastLineLen,
		NonASCII:    s.NonASCII || other.NonASCII,
	}
	if other.Lines == 0 {
		sum.LastLineLen += s.LastLineLen
	}
	return sum
}

// IsZero reports whether s summarizes no text.
func (s TextSummary) IsZero() bool {
	return s.Bytes == 0
}

// ComputeSummary measures s.
func ComputeSummary(s string) TextSummary {
	sum := TextSummary{Bytes: ByteOffset(len(s))}
	for _, r := range s {
		sum.Chars++
		sum.UTF16Units += utf16Len(r)
		switch {
		case r == '\n':
			sum.Lines++
			sum.LastLineLen = 0
		case r >= utf8.RuneSelf:
			sum.NonASCII = true
			sum.LastLineLen += uint32(utf8.RuneLen(r))
		default:
			sum.LastLineLen++
		}
	}
	return sum
}

func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

// FindNthNewline returns the index of the nth newline in s, counting from
// 1, or -1.
func FindNthNewline(s string, n uint32) int {
	if n == 0 {
		return -1
	}
	start := 0
	for ; n > 0; n-- {
		i := strings.IndexByte(s[start:], '\n')
		if i < 0 {
			return -1
		}
		start += i + 1
	}
	return start - 1
}

// pointInString converts a byte offset within s to a point.
func pointInString(s string, offset int) Point {
	s = s[:min(max(offset, 0), len(s))]
	nl := strings.LastIndexByte(s, '\n')
	return Point{
		Line:   uint32(strings.Count(s, "\n")),
		Column: uint32(len(s) - nl - 1),
	}
}
