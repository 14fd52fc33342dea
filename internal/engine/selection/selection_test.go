package selection

import (
	"testing"

	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/engine/clock"
)

func newBuffer(t *testing.T, replica clock.ReplicaID, text string) *buffer.Buffer {
	t.Helper()
	b, err := buffer.New(replica, text, buffer.WithConsistencyChecks(true))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func mustSelect(t *testing.T, b *buffer.Buffer, tail, head ByteOffset) Selection {
	t.Helper()
	sel, err := New(b.Snapshot(), Span{Tail: tail, Head: head})
	if err != nil {
		t.Fatalf("New(%d, %d): %v", tail, head, err)
	}
	return sel
}

func mustResolve(t *testing.T, b *buffer.Buffer, sel Selection) Span {
	t.Helper()
	span, err := sel.Resolve(b.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	return span
}

func TestSpan(t *testing.T) {
	tests := []struct {
		name       string
		span       Span
		start, end ByteOffset
		backward   bool
		empty      bool
	}{
		{"cursor", Cursor(4), 4, 4, false, true},
		{"forward", Span{Tail: 2, Head: 7}, 2, 7, false, false},
		{"backward", Span{Tail: 7, Head: 2}, 2, 7, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.span.Start() != tt.start || tt.span.End() != tt.end {
				t.Errorf("bounds = [%d, %d), want [%d, %d)", tt.span.Start(), tt.span.End(), tt.start, tt.end)
			}
			if tt.span.IsBackward() != tt.backward || tt.span.IsEmpty() != tt.empty {
				t.Errorf("%v: backward=%v empty=%v", tt.span, tt.span.IsBackward(), tt.span.IsEmpty())
			}
			if tt.span.Len() != tt.end-tt.start {
				t.Errorf("Len() = %d", tt.span.Len())
			}
		})
	}

	merged := Span{Tail: 6, Head: 3}.Merge(Span{Tail: 1, Head: 4})
	if merged != (Span{Tail: 6, Head: 1}) {
		t.Errorf("Merge kept wrong direction: %v", merged)
	}
}

func TestSelectionExcludesRemoteEdgeInserts(t *testing.T) {
	local := newBuffer(t, 1, "hello world")
	remote := newBuffer(t, 2, "hello world")

	sel := mustSelect(t, local, 6, 11)

	ops, err := remote.Insert(6, "big ")
	if err != nil {
		t.Fatal(err)
	}
	more, err := remote.Insert(remote.Len(), "!")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := local.Apply(append(ops, more...)...); err != nil {
		t.Fatal(err)
	}

	if local.Text() != "hello big world!" {
		t.Fatalf("text = %q", local.Text())
	}
	span := mustResolve(t, local, sel)
	if got := local.Snapshot().TextRange(span.Start(), span.End()); got != "world" {
		t.Errorf("selection covers %q (%v), want %q", got, span, "world")
	}
}

func TestCursorFollowsTyping(t *testing.T) {
	b := newBuffer(t, 1, "hello world")
	sel := mustSelect(t, b, 5, 5)
	if !sel.IsCursor() {
		t.Fatal("collapsed selection should be a cursor")
	}
	if _, err := b.Insert(5, ","); err != nil {
		t.Fatal(err)
	}
	if span := mustResolve(t, b, sel); span != Cursor(6) {
		t.Errorf("cursor = %v, want Cursor(6)", span)
	}
}

func TestSelectionCollapsesWhenDeleted(t *testing.T) {
	b := newBuffer(t, 1, "hello world")
	sel := mustSelect(t, b, 11, 6)
	if _, err := b.Delete(4, 11); err != nil {
		t.Fatal(err)
	}
	span := mustResolve(t, b, sel)
	if !span.IsEmpty() || span.Head != 4 {
		t.Errorf("span = %v, want Cursor(4)", span)
	}
}

func TestReversedSelectionKeepsDirection(t *testing.T) {
	b := newBuffer(t, 1, "abcdef")
	sel := mustSelect(t, b, 5, 1)
	if !sel.Reversed {
		t.Fatal("selection should be reversed")
	}
	if _, err := b.Insert(0, "xx"); err != nil {
		t.Fatal(err)
	}
	if span := mustResolve(t, b, sel); span != (Span{Tail: 7, Head: 3}) {
		t.Errorf("span = %v, want Span(7←3)", span)
	}
}

func TestSetMergesOverlaps(t *testing.T) {
	b := newBuffer(t, 1, "0123456789")
	set := NewSet(mustSelect(t, b, 0, 3))
	set.Add(mustSelect(t, b, 2, 5))
	set.Add(mustSelect(t, b, 5, 7))
	set.Add(mustSelect(t, b, 9, 9))

	spans, primary, err := set.Spans(b.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	want := []Span{{Tail: 0, Head: 5}, {Tail: 5, Head: 7}, Cursor(9)}
	if len(spans) != len(want) {
		t.Fatalf("spans = %v, want %v", spans, want)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("span %d = %v, want %v", i, spans[i], want[i])
		}
	}
	if primary != 2 {
		t.Errorf("primary = %d, want 2", primary)
	}

	if err := set.Normalize(b.Snapshot()); err != nil {
		t.Fatal(err)
	}
	if set.Count() != 3 {
		t.Errorf("Count() after Normalize = %d", set.Count())
	}
	if span := mustResolve(t, b, set.Primary()); span != Cursor(9) {
		t.Errorf("primary = %v", span)
	}
}

func TestSetMergesCursorIntoAdjacentSelection(t *testing.T) {
	b := newBuffer(t, 1, "0123456789")
	set := NewSet(mustSelect(t, b, 2, 2))
	set.Add(mustSelect(t, b, 2, 6))

	spans, _, err := set.Spans(b.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 1 || spans[0] != (Span{Tail: 2, Head: 6}) {
		t.Errorf("spans = %v", spans)
	}
}

func TestSetCollapse(t *testing.T) {
	b := newBuffer(t, 1, "abc")
	set := NewSet(mustSelect(t, b, 0, 0))
	set.Add(mustSelect(t, b, 1, 2))
	if !set.IsMulti() {
		t.Fatal("expected multiple selections")
	}
	set.Collapse()
	if set.Count() != 1 {
		t.Fatalf("Count() = %d", set.Count())
	}
	if span := mustResolve(t, b, set.Primary()); span != (Span{Tail: 1, Head: 2}) {
		t.Errorf("primary = %v", span)
	}
}
