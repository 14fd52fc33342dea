package history

import (
	"errors"
	"slices"
	"testing"

	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/oplog"
	"github.com/dshills/tandem/internal/engine/operation"
)

// fakeReverter hands out fresh ids and remembers what it was asked to revert.
type fakeReverter struct {
	next  uint32
	calls [][]clock.Local
	err   error
}

func (f *fakeReverter) Revert(edits []clock.Local) ([]clock.Local, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, edits)
	out := make([]clock.Local, len(edits))
	for i := range edits {
		f.next++
		out[i] = clock.Local{Replica: 9, Value: f.next}
	}
	return out, nil
}

func id(v uint32) clock.Local {
	return clock.Local{Replica: 1, Value: v}
}

func TestRecordAndUndo(t *testing.T) {
	h := New(10)
	r := &fakeReverter{}

	if _, err := h.Undo(r); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("Undo on empty history = %v", err)
	}
	if _, err := h.Redo(r); !errors.Is(err, ErrNothingToRedo) {
		t.Fatalf("Redo on empty history = %v", err)
	}

	h.Record(id(1))
	h.Record(id(2))
	if h.UndoCount() != 2 {
		t.Fatalf("UndoCount() = %d", h.UndoCount())
	}

	tx, err := h.Undo(r)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.calls[0], []clock.Local{id(2)}) {
		t.Errorf("reverted %v, want the latest edit", r.calls[0])
	}
	if len(tx.Edits) != 1 || tx.Edits[0].Replica != 9 {
		t.Errorf("redo entry edits = %v, want the inverse ids", tx.Edits)
	}
	if !h.CanRedo() || h.UndoCount() != 1 {
		t.Errorf("stacks after undo: undo=%d redo=%d", h.UndoCount(), h.RedoCount())
	}

	redone, err := h.Redo(r)
	if err != nil {
		t.Fatal(err)
	}
	if redone.ID != tx.ID {
		t.Error("redo should keep the transaction id")
	}
	if !slices.Equal(r.calls[1], tx.Edits) {
		t.Errorf("redo reverted %v, want %v", r.calls[1], tx.Edits)
	}
}

func TestRecordClearsRedo(t *testing.T) {
	h := New(10)
	r := &fakeReverter{}
	h.Record(id(1))
	h.Undo(r)
	h.Record(id(2))
	if h.CanRedo() {
		t.Error("new edits must clear the redo stack")
	}
}

func TestUndoFailureRestoresEntry(t *testing.T) {
	h := New(10)
	h.Record(id(1))
	boom := errors.New("boom")
	if _, err := h.Undo(&fakeReverter{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("Undo error = %v", err)
	}
	if h.UndoCount() != 1 || h.CanRedo() {
		t.Errorf("failed undo moved the entry: undo=%d redo=%d", h.UndoCount(), h.RedoCount())
	}
}

func TestMaxEntries(t *testing.T) {
	h := New(3)
	for v := uint32(1); v <= 5; v++ {
		h.Record(id(v))
	}
	if h.UndoCount() != 3 {
		t.Fatalf("UndoCount() = %d", h.UndoCount())
	}
	tx, _ := h.PeekUndo()
	if tx.Edits[0] != id(5) {
		t.Errorf("top of stack = %v", tx.Edits)
	}

	h.SetMaxEntries(1)
	if h.UndoCount() != 1 || h.MaxEntries() != 1 {
		t.Errorf("after SetMaxEntries: count=%d max=%d", h.UndoCount(), h.MaxEntries())
	}
	if New(0).MaxEntries() != DefaultMaxEntries {
		t.Error("New(0) should use the default limit")
	}
}

func TestGroups(t *testing.T) {
	h := New(10)
	r := &fakeReverter{}

	h.BeginGroup("rename")
	h.BeginGroup("ignored")
	h.Record(id(1), id(2))
	h.Record(id(3))
	if !h.IsGrouping() || h.UndoCount() != 0 {
		t.Fatal("grouped edits must not be pushed before EndGroup")
	}
	tx, ok := h.EndGroup()
	if !ok || tx.Name != "rename" || len(tx.Edits) != 3 {
		t.Fatalf("EndGroup = %+v, %v", tx, ok)
	}

	h.Undo(r)
	if !slices.Equal(r.calls[0], []clock.Local{id(1), id(2), id(3)}) {
		t.Errorf("group undo reverted %v", r.calls[0])
	}

	h.BeginGroup("empty")
	if _, ok := h.EndGroup(); ok {
		t.Error("empty group should not be pushed")
	}
}

func TestGroupScopeAndTransaction(t *testing.T) {
	h := New(10)

	func() {
		scope := h.GroupScope("scoped")
		defer scope.End()
		h.Record(id(1))
		h.Record(id(2))
	}()
	if h.UndoCount() != 1 {
		t.Fatalf("UndoCount() after scope = %d", h.UndoCount())
	}

	scope := h.GroupScope("cancelled")
	h.Record(id(3))
	scope.Cancel()
	scope.End()
	if h.UndoCount() != 1 || h.IsGrouping() {
		t.Errorf("cancelled scope changed history: %d", h.UndoCount())
	}

	fail := errors.New("fail")
	if err := h.Transaction("bad", func() error { h.Record(id(4)); return fail }); !errors.Is(err, fail) {
		t.Errorf("Transaction error = %v", err)
	}
	if err := h.Transaction("good", func() error { h.Record(id(5)); return nil }); err != nil {
		t.Fatal(err)
	}
	if tx, _ := h.PeekUndo(); tx.Name != "good" || h.UndoCount() != 2 {
		t.Errorf("top = %+v, count %d", tx, h.UndoCount())
	}
}

func TestCheckpoints(t *testing.T) {
	h := New(10)
	r := &fakeReverter{}
	h.Record(id(1))
	cp := h.CreateCheckpoint()
	h.Record(id(2))
	h.Record(id(3))

	if err := h.UndoToCheckpoint(cp, r); err != nil {
		t.Fatal(err)
	}
	if h.UndoCount() != 1 || h.RedoCount() != 2 {
		t.Errorf("after UndoToCheckpoint: undo=%d redo=%d", h.UndoCount(), h.RedoCount())
	}
	full := Checkpoint{undoDepth: 3}
	if err := h.RedoToCheckpoint(full, r); err != nil {
		t.Fatal(err)
	}
	if h.UndoCount() != 3 {
		t.Errorf("after RedoToCheckpoint: undo=%d", h.UndoCount())
	}
}

func TestClear(t *testing.T) {
	h := New(10)
	h.Record(id(1))
	h.BeginGroup("open")
	h.Clear()
	if h.CanUndo() || h.IsGrouping() {
		t.Error("Clear left state behind")
	}
}

// bufferReverter wires a history to a real buffer through an operation log.
type bufferReverter struct {
	buf *buffer.Buffer
	log *oplog.Log
}

func (br bufferReverter) Revert(edits []clock.Local) ([]clock.Local, error) {
	ops, ok := br.log.GetAll(edits)
	if !ok {
		return nil, errors.New("edit missing from log")
	}
	inverse, err := br.buf.Revert(ops)
	if errors.Is(err, buffer.ErrNothingToRevert) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	br.log.Append(inverse...)
	return ids(inverse), nil
}

func ids(ops []operation.Operation) []clock.Local {
	out := make([]clock.Local, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func TestUndoRedoRoundTripOnBuffer(t *testing.T) {
	buf, err := buffer.New(1, "the quick fox", buffer.WithConsistencyChecks(true))
	if err != nil {
		t.Fatal(err)
	}
	log := oplog.New()
	h := New(100)
	r := bufferReverter{buf: buf, log: log}

	record := func(ops []operation.Operation, err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		log.Append(ops...)
		h.Record(ids(ops)...)
	}

	h.BeginGroup("edit")
	record(buf.Replace(4, 9, "slow"))
	record(buf.Insert(buf.Len(), " jumps"))
	h.EndGroup()
	record(buf.Delete(0, 4))

	states := []string{"slow fox jumps", "the slow fox jumps"}
	fragments := func() []string {
		var out []string
		for _, f := range buf.Snapshot().Fragments() {
			if f.Visible() {
				out = append(out, f.Text)
			}
		}
		return out
	}
	before := fragments()

	if buf.Text() != states[0] {
		t.Fatalf("text = %q", buf.Text())
	}
	if _, err := h.Undo(r); err != nil {
		t.Fatal(err)
	}
	if buf.Text() != states[1] {
		t.Fatalf("after first undo %q", buf.Text())
	}
	if _, err := h.Undo(r); err != nil {
		t.Fatal(err)
	}
	if buf.Text() != "the quick fox" {
		t.Fatalf("after second undo %q", buf.Text())
	}

	h.Redo(r)
	h.Redo(r)
	if buf.Text() != states[0] {
		t.Fatalf("after redo %q", buf.Text())
	}
	if got := fragments(); !slices.Equal(got, before) {
		t.Errorf("live fragment text after undo/redo = %q, want %q", got, before)
	}
}

func TestFailedUndoLeavesBufferAndStacks(t *testing.T) {
	buf, err := buffer.New(1, "abc", buffer.WithConsistencyChecks(true))
	if err != nil {
		t.Fatal(err)
	}
	log := oplog.New()
	h := New(100)
	r := bufferReverter{buf: buf, log: log}

	ins, err := buf.Insert(3, "def")
	if err != nil {
		t.Fatal(err)
	}
	log.Append(ins...)
	// An edit whose target insertion this replica never saw.
	stray := operation.NewDelete(clock.Local{Replica: 1, Value: 50}, clock.Lamport{Replica: 1, Value: 50}, buf.Version(),
		[]operation.Range{{Insertion: clock.Local{Replica: 7, Value: 7}, Start: 0, End: 1}})
	log.Append(stray)

	h.BeginGroup("edit")
	h.Record(ids(ins)...)
	h.Record(stray.ID)
	h.EndGroup()

	version := buf.Version()
	if _, err := h.Undo(r); err == nil {
		t.Fatal("Undo succeeded")
	}
	if buf.Text() != "abcdef" {
		t.Errorf("text after failed undo = %q", buf.Text())
	}
	if !buf.Version().Equal(version) {
		t.Errorf("version after failed undo = %v, want %v", buf.Version(), version)
	}
	if h.UndoCount() != 1 || h.RedoCount() != 0 {
		t.Errorf("stacks after failed undo: undo=%d redo=%d", h.UndoCount(), h.RedoCount())
	}
	if log.Len() != 2 {
		t.Errorf("log holds %d operations, want 2", log.Len())
	}
}
