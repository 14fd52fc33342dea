package buffer

import (
	"fmt"
	"strings"
)

// LineEnding selects how line breaks in locally inserted text are normalized.
// Remote operations are applied verbatim.
type LineEnding uint8

// Line ending styles.
const (
	LineEndingLF LineEnding = iota
	LineEndingCRLF
	LineEndingCR
	// LineEndingPreserve leaves inserted text untouched.
	LineEndingPreserve
)

// String returns the escaped line ending sequence.
func (le LineEnding) String() string {
	switch le {
	case LineEndingCRLF:
		return `\r\n`
	case LineEndingCR:
		return `\r`
	case LineEndingPreserve:
		return "preserve"
	default:
		return `\n`
	}
}

// ParseLineEnding parses a style name: "lf", "crlf", "cr" or "preserve".
func ParseLineEnding(name string) (LineEnding, error) {
	switch strings.ToLower(name) {
	case "lf", "":
		return LineEndingLF, nil
	case "crlf":
		return LineEndingCRLF, nil
	case "cr":
		return LineEndingCR, nil
	case "preserve":
		return LineEndingPreserve, nil
	}
	return LineEndingLF, fmt.Errorf("unknown line ending %q", name)
}

// normalize rewrites every line break in s to the style's sequence.
func (le LineEnding) normalize(s string) string {
	if le == LineEndingPreserve || (le == LineEndingLF && !strings.ContainsRune(s, '\r')) {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	switch le {
	case LineEndingCRLF:
		return strings.ReplaceAll(s, "\n", "\r\n")
	case LineEndingCR:
		return strings.ReplaceAll(s, "\n", "\r")
	}
	return s
}

// DetectLineEnding returns the most common line ending in text, or
// LineEndingLF when text has none.
func DetectLineEnding(text string) LineEnding {
	var lf, crlf, cr int
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				crlf++
				i++
			} else {
				cr++
			}
		case '\n':
			lf++
		}
	}
	switch {
	case crlf > 0 && crlf >= lf && crlf >= cr:
		return LineEndingCRLF
	case cr > 0 && cr >= lf:
		return LineEndingCR
	default:
		return LineEndingLF
	}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLineEnding sets how locally inserted text is normalized.
func WithLineEnding(le LineEnding) Option {
	return func(b *Buffer) {
		b.lineEnding = le
	}
}

// WithConsistencyChecks makes every mutation verify the buffer's internal
// structures and panic on corruption. Meant for tests and debug builds.
func WithConsistencyChecks(enabled bool) Option {
	return func(b *Buffer) {
		b.checks = enabled
	}
}

// WithTabWidth records the display tab width reported by snapshots.
func WithTabWidth(width int) Option {
	return func(b *Buffer) {
		if width > 0 {
			b.tabWidth = width
		}
	}
}
