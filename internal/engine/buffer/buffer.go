package buffer

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
)

// Buffer is one replica's copy of a shared document. Local edits produce
// operations to broadcast; remote operations are integrated once everything
// they depend on has arrived, so all replicas that apply the same set of
// operations hold the same text regardless of delivery order.
//
// Writers serialize on a mutex. Readers use Snapshot, which never blocks.
type Buffer struct {
	mu sync.Mutex

	replica  clock.ReplicaID
	local    *clock.LocalClock
	lamport  *clock.LamportClock
	version  clock.Global
	st       state
	deferred map[clock.Local]operation.Operation
	// restoredFrom maps an insertion made by reverting a delete to the
	// insertion whose text it put back.
	restoredFrom map[clock.Local]clock.Local

	lineEnding LineEnding
	tabWidth   int
	checks     bool

	snap atomic.Pointer[Snapshot]
}

// New creates a buffer for replica holding base as its initial text. Every
// replica of a document must start from the same base text.
func New(replica clock.ReplicaID, base string, opts ...Option) (*Buffer, error) {
	if replica == clock.Reserved {
		return nil, ErrReservedReplica
	}
	b := newBuffer(replica, opts...)
	b.st = newState(base)
	b.publish()
	return b, nil
}

func newBuffer(replica clock.ReplicaID, opts ...Option) *Buffer {
	b := &Buffer{
		replica:    replica,
		local:      clock.NewLocalClock(replica),
		lamport:    clock.NewLamportClock(replica),
		version:    clock.NewGlobal(),
		deferred:     make(map[clock.Local]operation.Operation),
		restoredFrom: make(map[clock.Local]clock.Local),
		lineEnding:   LineEndingLF,
		tabWidth:     4,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Replica returns the buffer's replica id.
func (b *Buffer) Replica() clock.ReplicaID {
	return b.replica
}

// Snapshot returns an immutable view of the current state.
func (b *Buffer) Snapshot() *Snapshot {
	return b.snap.Load()
}

// Text returns the visible text.
func (b *Buffer) Text() string {
	return b.Snapshot().Text()
}

// Len returns the visible length in bytes.
func (b *Buffer) Len() ByteOffset {
	return b.Snapshot().Len()
}

// Version returns a copy of the version vector of applied operations.
func (b *Buffer) Version() clock.Global {
	return b.Snapshot().Version()
}

// Insert inserts text at visible offset and returns the resulting operation.
// Inserting empty text produces no operation.
func (b *Buffer) Insert(offset ByteOffset, text string) ([]operation.Operation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOffset(offset); err != nil {
		return nil, err
	}
	text = b.lineEnding.normalize(text)
	if text == "" {
		return nil, nil
	}
	op, err := b.localInsert(offset, text)
	if err != nil {
		return nil, err
	}
	return []operation.Operation{op}, nil
}

// Delete removes the visible range [start, end). An empty range produces no
// operation.
func (b *Buffer) Delete(start, end ByteOffset) ([]operation.Operation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkRange(start, end); err != nil {
		return nil, err
	}
	if start == end {
		return nil, nil
	}
	op, err := b.localDelete(start, end)
	if err != nil {
		return nil, err
	}
	return []operation.Operation{op}, nil
}

// Replace deletes [start, end) and inserts text in its place.
func (b *Buffer) Replace(start, end ByteOffset, text string) ([]operation.Operation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkRange(start, end); err != nil {
		return nil, err
	}
	text = b.lineEnding.normalize(text)

	var ops []operation.Operation
	if start < end {
		op, err := b.localDelete(start, end)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if text != "" {
		op, err := b.localInsert(start, text)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (b *Buffer) checkOffset(offset ByteOffset) error {
	if offset < 0 || offset > b.st.visible.Len() || !b.st.visible.IsCharBoundary(offset) {
		return fmt.Errorf("%w: %d (len %d)", ErrInvalidOffset, offset, b.st.visible.Len())
	}
	return nil
}

func (b *Buffer) checkRange(start, end ByteOffset) error {
	if start > end {
		return fmt.Errorf("%w: range [%d, %d)", ErrInvalidOffset, start, end)
	}
	if err := b.checkOffset(start); err != nil {
		return err
	}
	return b.checkOffset(end)
}

// stamp returns the id, timestamp and dependency vector for a new local
// operation.
func (b *Buffer) stamp() (clock.Local, clock.Lamport, clock.Global) {
	return b.local.Tick(), b.lamport.Tick(), b.version.Clone()
}

func (b *Buffer) localInsert(offset ByteOffset, text string) (operation.Operation, error) {
	anchor, anchorOffset := b.st.anchorFor(offset)
	id, ts, version := b.stamp()
	op := operation.NewInsert(id, ts, version, anchor, anchorOffset, text)
	return op, b.commitLocal(op)
}

func (b *Buffer) localDelete(start, end ByteOffset) (operation.Operation, error) {
	ranges := b.st.rangesFor(start, end)
	id, ts, version := b.stamp()
	op := operation.NewDelete(id, ts, version, ranges)
	return op, b.commitLocal(op)
}

func (b *Buffer) commitLocal(op operation.Operation) error {
	if err := b.st.integrate(op); err != nil {
		return fmt.Errorf("apply local %v: %w", op.ID, err)
	}
	b.version.Observe(op.ID)
	b.verify()
	b.publish()
	return nil
}

// Apply integrates operations received from other replicas, in any order.
// Operations whose dependencies have not arrived are held back and applied
// as soon as they can be. Duplicates are ignored. Operations that fail
// validation are rejected with a *CorruptOperationError and never applied;
// the rest of the batch still goes through.
//
// Apply returns every operation actually integrated by this call, including
// previously deferred ones that became ready, in application order.
func (b *Buffer) Apply(ops ...operation.Operation) ([]operation.Operation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		applied []operation.Operation
		errs    []error
	)
	for _, op := range ops {
		if b.version.Observed(op.ID) {
			continue
		}
		if _, ok := b.deferred[op.ID]; ok {
			continue
		}
		if err := op.Validate(); err != nil {
			errs = append(errs, corrupt(op.ID, "validation failed", err))
			continue
		}
		if !b.version.ObservedAll(op.Version) {
			b.deferred[op.ID] = op
			continue
		}
		if err := b.applyReady(op); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, op)
		applied = b.drain(applied, &errs)
	}
	if len(applied) > 0 {
		b.publish()
	}
	return applied, errors.Join(errs...)
}

func (b *Buffer) applyReady(op operation.Operation) error {
	if err := b.st.integrate(op); err != nil {
		return err
	}
	b.version.Observe(op.ID)
	b.local.Observe(op.ID)
	b.lamport.Observe(op.Lamport)
	b.verify()
	return nil
}

// drain applies deferred operations until none is ready.
func (b *Buffer) drain(applied []operation.Operation, errs *[]error) []operation.Operation {
	for progress := true; progress && len(b.deferred) > 0; {
		progress = false
		for _, id := range slices.SortedFunc(maps.Keys(b.deferred), clock.Local.Compare) {
			op := b.deferred[id]
			if !b.version.ObservedAll(op.Version) {
				continue
			}
			delete(b.deferred, id)
			progress = true
			if err := b.applyReady(op); err != nil {
				*errs = append(*errs, err)
				continue
			}
			applied = append(applied, op)
		}
	}
	return applied
}

// Pending returns the number of operations waiting for dependencies.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deferred)
}

// PendingOperations returns the waiting operations ordered by id.
func (b *Buffer) PendingOperations() []operation.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	ops := make([]operation.Operation, 0, len(b.deferred))
	for _, id := range slices.SortedFunc(maps.Keys(b.deferred), clock.Local.Compare) {
		ops = append(ops, b.deferred[id])
	}
	return ops
}

// Revert issues new local operations that undo the visible effect of ops,
// processing them last to first. Reverting an insert deletes whatever part
// of it is still visible, along with any copy of its text that an earlier
// Revert put back. Reverting a delete re-inserts the deleted text
// immediately before its first deleted character, except text inserted by
// ops itself, which stays deleted. The returned operations revert the
// revert.
//
// Revert is all or nothing: if any inverse operation fails to apply, the
// buffer is left exactly as it was and no operations are returned.
func (b *Buffer) Revert(ops []operation.Operation) ([]operation.Operation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var inserts []clock.Local
	for _, op := range ops {
		if op.Kind == operation.KindInsert {
			inserts = append(inserts, op.ID)
		}
	}
	reverted := b.withRestored(inserts...)

	saved := b.checkpoint()
	out, err := b.revert(ops, reverted)
	if err != nil {
		b.restore(saved)
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNothingToRevert
	}
	return out, nil
}

func (b *Buffer) revert(ops []operation.Operation, reverted mapset.Set[clock.Local]) ([]operation.Operation, error) {
	var out []operation.Operation
	for _, op := range slices.Backward(ops) {
		switch op.Kind {
		case operation.KindInsert:
			var ranges []operation.Range
			family := b.withRestored(op.ID).ToSlice()
			slices.SortFunc(family, clock.Local.Compare)
			for _, id := range family {
				ranges = append(ranges, b.st.visibleRanges(id)...)
			}
			if len(ranges) == 0 {
				continue
			}
			id, ts, version := b.stamp()
			inv := operation.NewDelete(id, ts, version, ranges)
			if err := b.commitLocal(inv); err != nil {
				return nil, err
			}
			out = append(out, inv)
		case operation.KindDelete:
			for _, r := range op.Delete.Ranges {
				if reverted.Contains(r.Insertion) {
					continue
				}
				text, err := b.st.insertionText(r.Insertion, r.Start, r.End)
				if err != nil {
					return nil, fmt.Errorf("revert %v: %w", op.ID, err)
				}
				id, ts, version := b.stamp()
				inv := operation.NewInsert(id, ts, version, r.Insertion, r.Start, text)
				if err := b.commitLocal(inv); err != nil {
					return nil, err
				}
				b.restoredFrom[inv.ID] = r.Insertion
				out = append(out, inv)
			}
		}
	}
	return out, nil
}

// withRestored returns ids together with every insertion that restored
// their text, directly or through another restored copy.
func (b *Buffer) withRestored(ids ...clock.Local) mapset.Set[clock.Local] {
	set := mapset.NewThreadUnsafeSet(ids...)
	for grew := len(ids) > 0; grew; {
		grew = false
		for id, from := range b.restoredFrom {
			if set.Contains(from) && set.Add(id) {
				grew = true
			}
		}
	}
	return set
}

// checkpoint captures everything a local edit changes.
type checkpoint struct {
	st           state
	version      clock.Global
	local        clock.LocalClock
	lamport      clock.LamportClock
	restoredFrom map[clock.Local]clock.Local
}

func (b *Buffer) checkpoint() checkpoint {
	return checkpoint{
		st:           b.st.frozen(),
		version:      b.version.Clone(),
		local:        *b.local,
		lamport:      *b.lamport,
		restoredFrom: maps.Clone(b.restoredFrom),
	}
}

// restore rolls the buffer back to c. Operations issued since c must not
// have left the buffer.
func (b *Buffer) restore(c checkpoint) {
	b.st = c.st
	b.version = c.version
	*b.local = c.local
	*b.lamport = c.lamport
	b.restoredFrom = c.restoredFrom
	b.publish()
}

// Check verifies the buffer's internal consistency.
func (b *Buffer) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.check()
}

func (b *Buffer) verify() {
	if !b.checks {
		return
	}
	if err := b.st.check(); err != nil {
		panic(err)
	}
}

func (b *Buffer) publish() {
	b.snap.Store(&Snapshot{
		st:         b.st.frozen(),
		replica:    b.replica,
		version:    b.version.Clone(),
		lamport:    b.lamport.Current(),
		lineEnding: b.lineEnding,
		tabWidth:   b.tabWidth,
	})
}
