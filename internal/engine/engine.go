package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/history"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/engine/oplog"
	"github.com/dshills/tandem/internal/engine/selection"
	"github.com/dshills/tandem/internal/logging"
)

// Re-export commonly used types for convenience.
type (
	// ByteOffset is a byte position in the visible text.
	ByteOffset = buffer.ByteOffset

	// Point represents a line/column position.
	Point = buffer.Point

	// PointUTF16 represents a UTF-16 line/column position (for LSP).
	PointUTF16 = buffer.PointUTF16

	// Range represents a byte range in the visible text.
	Range = buffer.Range

	// Anchor is a position that follows the text it is attached to.
	Anchor = buffer.Anchor

	// Snapshot is an immutable view of the document.
	Snapshot = buffer.Snapshot

	// LineEnding specifies the line ending style.
	LineEnding = buffer.LineEnding

	// Operation is one replicated edit.
	Operation = operation.Operation

	// Span is a resolved selection.
	Span = selection.Span

	// Transaction is one undoable unit of local edits.
	Transaction = history.Transaction
)

// Re-export constants.
const (
	LineEndingLF   = buffer.LineEndingLF
	LineEndingCRLF = buffer.LineEndingCRLF
	LineEndingCR   = buffer.LineEndingCR

	BiasLeft  = operation.BiasLeft
	BiasRight = operation.BiasRight
)

// Broadcaster receives every operation this replica produces, in the order
// they were produced. Broadcast is called after the engine has been
// unlocked, one call at a time.
type Broadcaster interface {
	Broadcast(ops []Operation)
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(ops []Operation)

// Broadcast calls f(ops).
func (f BroadcastFunc) Broadcast(ops []Operation) { f(ops) }

// Engine is one replica of a shared document. It pairs the replicated
// buffer with an operation log, local undo history, selections and a
// broadcast hook.
//
// All methods are safe for concurrent use. Reads go through immutable
// snapshots and never wait for writers.
type Engine struct {
	mu sync.Mutex
	// emitMu serializes flushes so outbox batches leave in order.
	emitMu sync.Mutex
	outbox []Operation

	buf        *buffer.Buffer
	log        *oplog.Log
	history    *history.History
	selections *selection.Set

	logger      *logging.Logger
	broadcaster Broadcaster

	tabWidth       int
	lineEnding     buffer.LineEnding
	maxUndoEntries int
	readOnly       bool
	checks         bool

	initContent string
}

func configure(opts []Option) *Engine {
	e := &Engine{
		tabWidth:       DefaultTabWidth,
		lineEnding:     buffer.LineEndingLF,
		maxUndoEntries: DefaultMaxUndoEntries,
		logger:         logging.NewNull(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")
	return e
}

func (e *Engine) bufferOptions() []buffer.Option {
	return []buffer.Option{
		buffer.WithTabWidth(e.tabWidth),
		buffer.WithLineEnding(e.lineEnding),
		buffer.WithConsistencyChecks(e.checks),
	}
}

func (e *Engine) init(buf *buffer.Buffer, log *oplog.Log) error {
	e.buf = buf
	e.log = log
	e.history = history.New(e.maxUndoEntries)
	sel, err := selection.New(buf.Snapshot(), selection.Cursor(0))
	if err != nil {
		return err
	}
	e.selections = selection.NewSet(sel)
	e.logger = e.logger.WithField("replica", buf.Replica())
	return nil
}

// New creates a replica of a document. Every replica of one document must
// start from the same content.
func New(replica clock.ReplicaID, opts ...Option) (*Engine, error) {
	e := configure(opts)
	buf, err := buffer.New(replica, e.initContent, e.bufferOptions()...)
	if err != nil {
		return nil, err
	}
	if err := e.init(buf, oplog.New()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewFromReader creates a replica whose initial content is read from r.
func NewFromReader(replica clock.ReplicaID, r io.Reader, opts ...Option) (*Engine, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read initial content: %w", err)
	}
	return New(replica, append(opts, WithContent(string(data)))...)
}

// NewFromSnapshot creates a replica from another replica's serialized
// snapshot. Its log starts at the snapshot's version, so it cannot serve
// catch-up requests for older operations.
func NewFromSnapshot(replica clock.ReplicaID, data []byte, opts ...Option) (*Engine, error) {
	e := configure(opts)
	buf, err := buffer.LoadSnapshot(replica, data, e.bufferOptions()...)
	if err != nil {
		return nil, err
	}
	if err := e.init(buf, oplog.New(oplog.WithFloor(buf.Version()))); err != nil {
		return nil, err
	}
	return e, nil
}

// SetBroadcaster replaces the broadcast hook. nil disables broadcasting.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

// ============================================================================
// Read Operations
// ============================================================================

// Replica returns this replica's id.
func (e *Engine) Replica() clock.ReplicaID {
	return e.buf.Replica()
}

// Snapshot returns the latest immutable snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.buf.Snapshot()
}

// Text returns the visible document.
func (e *Engine) Text() string {
	return e.buf.Text()
}

// Len returns the visible byte length.
func (e *Engine) Len() ByteOffset {
	return e.buf.Len()
}

// Version returns the version vector of applied operations.
func (e *Engine) Version() clock.Global {
	return e.buf.Version()
}

// IsReadOnly reports whether local edits are rejected.
func (e *Engine) IsReadOnly() bool {
	return e.readOnly
}

// ============================================================================
// Local Edits
// ============================================================================

// Insert inserts text at offset and returns the end of the inserted text,
// which differs from offset+len(text) when line endings are normalized.
func (e *Engine) Insert(offset ByteOffset, text string) (ByteOffset, error) {
	defer e.flush()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return 0, ErrReadOnly
	}
	ops, err := e.buf.Insert(offset, text)
	e.commit(ops)
	if err != nil {
		return 0, err
	}
	return offset + insertedLen(ops), nil
}

// Delete removes the visible text in [start, end).
func (e *Engine) Delete(start, end ByteOffset) error {
	defer e.flush()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return ErrReadOnly
	}
	ops, err := e.buf.Delete(start, end)
	e.commit(ops)
	return err
}

// Replace replaces [start, end) with text as one undoable edit and returns
// the end of the new text.
func (e *Engine) Replace(start, end ByteOffset, text string) (ByteOffset, error) {
	defer e.flush()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return 0, ErrReadOnly
	}
	ops, err := e.buf.Replace(start, end, text)
	e.commit(ops)
	if err != nil {
		return 0, err
	}
	return min(start, end) + insertedLen(ops), nil
}

// commit logs, records and broadcasts locally produced operations.
func (e *Engine) commit(ops []Operation) {
	if len(ops) == 0 {
		return
	}
	e.log.Append(ops...)
	e.history.Record(ids(ops)...)
	e.emit(ops)
}

// emit queues ops for the broadcaster. Callers hold mu and flush after
// releasing it.
func (e *Engine) emit(ops []Operation) {
	if e.broadcaster != nil {
		e.outbox = append(e.outbox, ops...)
	}
}

func (e *Engine) flush() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	batch, b := e.outbox, e.broadcaster
	e.outbox = nil
	e.mu.Unlock()

	if len(batch) > 0 && b != nil {
		b.Broadcast(batch)
	}
}

func insertedLen(ops []Operation) ByteOffset {
	var n ByteOffset
	for _, op := range ops {
		if op.Kind == operation.KindInsert {
			n += ByteOffset(len(op.Insert.Text))
		}
	}
	return n
}

func ids(ops []Operation) []clock.Local {
	out := make([]clock.Local, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

// ============================================================================
// Transactions and Undo
// ============================================================================

// BeginTransaction groups subsequent local edits into one undoable unit
// until EndTransaction. Nested calls are ignored.
func (e *Engine) BeginTransaction(name string) {
	e.history.BeginGroup(name)
}

// EndTransaction closes the open transaction. It returns the transaction
// and whether it recorded any edits.
func (e *Engine) EndTransaction() (Transaction, bool) {
	return e.history.EndGroup()
}

// CancelTransaction closes the open transaction without making it
// undoable. Its edits stay applied.
func (e *Engine) CancelTransaction() {
	e.history.CancelGroup()
}

// Transaction runs fn inside a transaction.
func (e *Engine) Transaction(name string, fn func() error) error {
	return e.history.Transaction(name, fn)
}

// Undo reverts the latest local transaction by issuing new operations,
// which are logged and broadcast like any local edit. Remote edits are
// never undone.
func (e *Engine) Undo() ([]Operation, error) {
	return e.step(e.history.Undo)
}

// Redo reapplies the latest undone transaction.
func (e *Engine) Redo() ([]Operation, error) {
	return e.step(e.history.Redo)
}

func (e *Engine) step(move func(history.Reverter) (Transaction, error)) ([]Operation, error) {
	defer e.flush()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return nil, ErrReadOnly
	}
	var produced []Operation
	tx, err := move(history.ReverterFunc(func(edits []clock.Local) ([]clock.Local, error) {
		ops, ok := e.log.GetAll(edits)
		if !ok {
			return nil, fmt.Errorf("transaction references %w", oplog.ErrCompacted)
		}
		inverse, err := e.buf.Revert(ops)
		if errors.Is(err, buffer.ErrNothingToRevert) {
			return nil, nil
		}
		if err != nil {
			// The buffer rolled back; the transaction stays where it was.
			return nil, err
		}
		e.log.Append(inverse...)
		produced = append(produced, inverse...)
		return ids(inverse), nil
	}))
	if err != nil {
		return nil, err
	}
	e.emit(produced)
	e.logger.Debug("%s %q: %d operations", tx.ID, tx.Name, len(produced))
	return produced, nil
}

// CanUndo reports whether there is a transaction to undo.
func (e *Engine) CanUndo() bool {
	return e.history.CanUndo()
}

// CanRedo reports whether there is a transaction to redo.
func (e *Engine) CanRedo() bool {
	return e.history.CanRedo()
}

// ClearHistory drops the undo and redo stacks.
func (e *Engine) ClearHistory() {
	e.history.Clear()
}

// ============================================================================
// Anchors and Selections
// ============================================================================

// CreateAnchor returns an anchor for offset in the current document.
func (e *Engine) CreateAnchor(offset ByteOffset, bias operation.Bias) (Anchor, error) {
	return e.buf.CreateAnchor(offset, bias)
}

// ResolveAnchor returns the current offset of a.
func (e *Engine) ResolveAnchor(a Anchor) (ByteOffset, error) {
	return e.buf.Resolve(a)
}

// Selections returns the current selections, sorted and merged, and the
// index of the primary one.
func (e *Engine) Selections() ([]Span, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selections.Spans(e.buf.Snapshot())
}

// SetSelections replaces the selections. The last span becomes primary.
func (e *Engine) SetSelections(spans ...Span) error {
	if len(spans) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.buf.Snapshot()
	sels := make([]selection.Selection, len(spans))
	for i, span := range spans {
		sel, err := selection.New(snap, span)
		if err != nil {
			return err
		}
		sels[i] = sel
	}
	e.selections.SetAll(sels, len(sels)-1)
	return e.selections.Normalize(snap)
}

// AddSelection adds span as the new primary selection.
func (e *Engine) AddSelection(span Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.buf.Snapshot()
	sel, err := selection.New(snap, span)
	if err != nil {
		return err
	}
	e.selections.Add(sel)
	return e.selections.Normalize(snap)
}

// InsertAtSelections replaces every selection with text as one transaction
// and leaves a cursor after each insertion.
func (e *Engine) InsertAtSelections(text string) error {
	defer e.flush()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return ErrReadOnly
	}
	spans, primary, err := e.selections.Spans(e.buf.Snapshot())
	if err != nil {
		return err
	}

	if !e.history.IsGrouping() {
		defer e.history.GroupScope("insert at selections").End()
	}

	// Last to first, so earlier spans keep their offsets.
	cursors := make([]selection.Selection, len(spans))
	for i := len(spans) - 1; i >= 0; i-- {
		start, end := spans[i].Start(), spans[i].End()
		ops, err := e.buf.Replace(start, end, text)
		e.commit(ops)
		if err != nil {
			return err
		}
		if cursors[i], err = e.cursorAfter(start, insertedLen(ops)); err != nil {
			return err
		}
	}
	e.selections.SetAll(cursors, primary)
	return nil
}

// cursorAfter returns a cursor that stays behind the n bytes just inserted
// at start.
func (e *Engine) cursorAfter(start, n ByteOffset) (selection.Selection, error) {
	snap := e.buf.Snapshot()
	if n == 0 {
		return selection.New(snap, selection.Cursor(start))
	}
	a, err := snap.CreateAnchor(start+n, operation.BiasLeft)
	if err != nil {
		return selection.Selection{}, err
	}
	return selection.Selection{Start: a, End: a}, nil
}

// ============================================================================
// Remote Delivery
// ============================================================================

// ReceiveOperation applies one operation from another replica.
func (e *Engine) ReceiveOperation(op Operation) error {
	_, err := e.ReceiveBatch([]Operation{op})
	return err
}

// ReceiveBatch applies operations from other replicas in any order.
// Duplicates are ignored and operations with missing dependencies wait for
// them. Rejected operations are logged and skipped; the returned error joins
// their errors. The operations actually applied are returned in order.
func (e *Engine) ReceiveBatch(ops []Operation) ([]Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := e.buf.Apply(ops...)
	e.log.Append(applied...)
	if err != nil {
		e.logRejected(err)
	}
	if n := e.buf.Pending(); n > 0 {
		e.logger.Debug("%d operations waiting for dependencies", n)
	}
	return applied, err
}

func (e *Engine) logRejected(err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, err := range errs {
		var corrupt *buffer.CorruptOperationError
		if errors.As(err, &corrupt) {
			e.logger.WithField("op", corrupt.ID).Warn("rejected operation: %v", err)
			continue
		}
		e.logger.Error("apply failed: %v", err)
	}
}

// PendingOperations returns received operations still waiting for their
// dependencies, ordered by id.
func (e *Engine) PendingOperations() []Operation {
	return e.buf.PendingOperations()
}

// ============================================================================
// Bootstrap and Catch-up
// ============================================================================

// SerializeSnapshot encodes the full replicated state for a joining replica.
func (e *Engine) SerializeSnapshot() ([]byte, error) {
	return e.buf.SerializeSnapshot()
}

// OpsSince returns the logged operations not covered by version, in an
// order that satisfies their dependencies.
func (e *Engine) OpsSince(version clock.Global) ([]Operation, error) {
	return e.log.Since(version)
}

// CompactLog drops logged operations every replica has applied and returns
// how many were dropped. Transactions referring to them can no longer be
// undone.
func (e *Engine) CompactLog(stable clock.Global) int {
	n := e.log.Compact(stable)
	if n > 0 {
		e.logger.Debug("compacted %d operations up to %v", n, stable)
	}
	return n
}

// LogLen returns the number of operations held in the log.
func (e *Engine) LogLen() int {
	return e.log.Len()
}

// Check verifies the replica's internal consistency.
func (e *Engine) Check() error {
	return e.buf.Check()
}
