package rope

import (
	"strings"
	"unicode/utf8"
)

// Chunk size constants control the granularity of text storage.
const (
	// MinChunkSize is the size below which adjacent chunks are merged.
	MinChunkSize = 128

	// MaxChunkSize is the maximum bytes per chunk before splitting.
	MaxChunkSize = 256

	// TargetChunkSize is the preferred chunk size when building.
	TargetChunkSize = (MinChunkSize + MaxChunkSize) / 2
)

// Chunk is a bounded, immutable string stored in the rope's tree.
type Chunk struct {
	data    string
	summary TextSummary
}

// NewChunk creates a chunk from a string.
func NewChunk(s string) Chunk {
	return Chunk{
		data:    s,
		summary: ComputeSummary(s),
	}
}

// String returns the chunk's text.
func (c Chunk) String() string {
	return c.data
}

// Summary returns the chunk's precomputed metrics.
func (c Chunk) Summary() TextSummary {
	return c.summary
}

// Len returns the byte length of the chunk.
func (c Chunk) Len() int {
	return len(c.data)
}

// IsEmpty returns true if the chunk contains no text.
func (c Chunk) IsEmpty() bool {
	return len(c.data) == 0
}

// Split cuts c at a character boundary.
func (c Chunk) Split(offset int) (Chunk, Chunk) {
	if offset <= 0 {
		return Chunk{}, c
	}
	if offset >= len(c.data) {
		return c, Chunk{}
	}
	return NewChunk(c.data[:offset]), NewChunk(c.data[offset:])
}

// Append joins other onto c, re-chunking when the result is too long.
func (c Chunk) Append(other Chunk) []Chunk {
	if c.IsEmpty() {
		if other.IsEmpty() {
			return nil
		}
		return []Chunk{other}
	}
	if other.IsEmpty() {
		return []Chunk{c}
	}
	return splitIntoChunks(c.data + other.data)
}

// splitIntoChunks cuts s into chunks of at most MaxChunkSize bytes.
func splitIntoChunks(s string) []Chunk {
	if s == "" {
		return nil
	}
	chunks := make([]Chunk, 0, len(s)/TargetChunkSize+1)
	for len(s) > MaxChunkSize {
		cut := chunkBoundary(s, TargetChunkSize)
		chunks = append(chunks, NewChunk(s[:cut]))
		s = s[cut:]
	}
	return append(chunks, NewChunk(s))
}

// chunkBoundary returns a cut point near target: just after a newline within
// a quarter of MinChunkSize of it, otherwise the closest character start at
// or before target. Invalid UTF-8 is cut at target.
func chunkBoundary(s string, target int) int {
	if target >= len(s) {
		return len(s)
	}
	if target <= 0 {
		return 0
	}
	window := MinChunkSize / 4
	lo, hi := max(target-window, 0), min(target+window, len(s))
	if i := strings.LastIndexByte(s[lo:hi], '\n'); i >= 0 {
		return lo + i + 1
	}
	for cut := target; cut > 0 && cut > target-utf8.UTFMax; cut-- {
		if utf8.RuneStart(s[cut]) {
			return cut
		}
	}
	return target
}
