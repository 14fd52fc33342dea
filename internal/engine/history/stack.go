package history

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/tandem/internal/engine/clock"
)

// Common errors for history operations.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// DefaultMaxEntries bounds the undo stack when New is given no limit.
const DefaultMaxEntries = 1000

// Transaction is one undoable unit of local edits.
type Transaction struct {
	ID        uuid.UUID
	Name      string
	Edits     []clock.Local
	Timestamp time.Time
}

// Reverter issues operations undoing the visible effect of edits and returns
// their ids. Returning no ids means nothing was left to revert.
type Reverter interface {
	Revert(edits []clock.Local) ([]clock.Local, error)
}

// ReverterFunc adapts a function to Reverter.
type ReverterFunc func(edits []clock.Local) ([]clock.Local, error)

// Revert calls f.
func (f ReverterFunc) Revert(edits []clock.Local) ([]clock.Local, error) {
	return f(edits)
}

// History manages the undo and redo stacks of one replica.
type History struct {
	mu sync.Mutex

	undoStack []Transaction
	redoStack []Transaction

	grouping bool
	group    Transaction

	maxEntries int
}

// New creates a history keeping at most maxEntries undo transactions.
func New(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &History{maxEntries: maxEntries}
}

// Record adds local edits. Inside a group they join the open transaction;
// otherwise they form a new one. Recording clears the redo stack.
func (h *History) Record(edits ...clock.Local) {
	if len(edits) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.grouping {
		h.group.Edits = append(h.group.Edits, edits...)
		return
	}
	h.pushLocked(Transaction{
		ID:        uuid.New(),
		Edits:     append([]clock.Local(nil), edits...),
		Timestamp: time.Now(),
	})
}

func (h *History) pushLocked(tx Transaction) {
	h.undoStack = append(h.undoStack, tx)
	h.redoStack = nil
	if excess := len(h.undoStack) - h.maxEntries; excess > 0 {
		h.undoStack = h.undoStack[excess:]
	}
}

// Undo reverts the latest transaction and moves it to the redo stack. The
// lock is not held while r runs.
func (h *History) Undo(r Reverter) (Transaction, error) {
	return h.move(r, &h.undoStack, &h.redoStack, ErrNothingToUndo)
}

// Redo re-applies the latest undone transaction.
func (h *History) Redo(r Reverter) (Transaction, error) {
	return h.move(r, &h.redoStack, &h.undoStack, ErrNothingToRedo)
}

func (h *History) move(r Reverter, from, to *[]Transaction, empty error) (Transaction, error) {
	h.mu.Lock()
	if len(*from) == 0 {
		h.mu.Unlock()
		return Transaction{}, empty
	}
	tx := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	h.mu.Unlock()

	var inverse []clock.Local
	if len(tx.Edits) > 0 {
		var err error
		inverse, err = r.Revert(tx.Edits)
		if err != nil {
			h.mu.Lock()
			*from = append(*from, tx)
			h.mu.Unlock()
			return Transaction{}, err
		}
	}

	moved := tx
	moved.Edits = inverse
	moved.Timestamp = time.Now()

	h.mu.Lock()
	*to = append(*to, moved)
	h.mu.Unlock()
	return moved, nil
}

// CanUndo reports whether an undo is available.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack) > 0
}

// CanRedo reports whether a redo is available.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack) > 0
}

// UndoCount returns the depth of the undo stack.
func (h *History) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack)
}

// RedoCount returns the depth of the redo stack.
func (h *History) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack)
}

// PeekUndo returns the next transaction Undo would revert.
func (h *History) PeekUndo() (Transaction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undoStack) == 0 {
		return Transaction{}, false
	}
	return h.undoStack[len(h.undoStack)-1], true
}

// PeekRedo returns the next transaction Redo would re-apply.
func (h *History) PeekRedo() (Transaction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redoStack) == 0 {
		return Transaction{}, false
	}
	return h.redoStack[len(h.redoStack)-1], true
}

// Clear drops both stacks and any open group.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undoStack = nil
	h.redoStack = nil
	h.grouping = false
	h.group = Transaction{}
}

// SetMaxEntries changes the undo limit, dropping the oldest transactions
// if the stack is already larger.
func (h *History) SetMaxEntries(n int) {
	if n <= 0 {
		n = DefaultMaxEntries
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxEntries = n
	if excess := len(h.undoStack) - n; excess > 0 {
		h.undoStack = h.undoStack[excess:]
	}
}

// MaxEntries returns the undo limit.
func (h *History) MaxEntries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxEntries
}
