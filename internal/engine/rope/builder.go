package rope

import (
	"io"
	"strings"
)

// Builder accumulates text and turns it into a rope. Writes may split a
// character; only Build requires the total to be valid UTF-8.
type Builder struct {
	chunks  []Chunk
	pending strings.Builder
	n       int
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WriteString appends s.
func (b *Builder) WriteString(s string) (int, error) {
	b.n += len(s)
	b.pending.WriteString(s)
	if b.pending.Len() >= 2*MaxChunkSize {
		b.flush()
	}
	return len(s), nil
}

// Write appends p.
func (b *Builder) Write(p []byte) (int, error) {
	return b.WriteString(string(p))
}

// flush moves all but the last MaxChunkSize or so pending bytes into
// chunks. The tail stays pending, so a character cut by a write is completed
// by the next one before it is chunked.
func (b *Builder) flush() {
	s := b.pending.String()
	cut := chunkBoundary(s, len(s)-MaxChunkSize)
	if cut <= 0 {
		return
	}
	b.chunks = append(b.chunks, splitIntoChunks(s[:cut])...)
	b.pending.Reset()
	b.pending.WriteString(s[cut:])
}

// Len returns the number of bytes written since the last Build.
func (b *Builder) Len() int {
	return b.n
}

// Build returns the rope and empties the builder.
func (b *Builder) Build() Rope {
	r := FromChunks(append(b.chunks, splitIntoChunks(b.pending.String())...))
	*b = Builder{}
	return r
}

// ReadFrom appends everything read from r.
func (b *Builder) ReadFrom(r io.Reader) (int64, error) {
	// Hide ReadFrom from io.Copy, which would otherwise call back into it.
	return io.Copy(struct{ io.Writer }{b}, r)
}
