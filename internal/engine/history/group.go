package history

import (
	"time"

	"github.com/google/uuid"
)

// BeginGroup opens a transaction; edits recorded until EndGroup undo as one
// unit. Nested calls are ignored.
func (h *History) BeginGroup(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grouping {
		return
	}
	h.grouping = true
	h.group = Transaction{ID: uuid.New(), Name: name, Timestamp: time.Now()}
}

// EndGroup closes the open transaction and pushes it if it recorded any
// edits. It returns the transaction and whether one was pushed.
func (h *History) EndGroup() (Transaction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.grouping {
		return Transaction{}, false
	}
	h.grouping = false
	tx := h.group
	h.group = Transaction{}
	if len(tx.Edits) == 0 {
		return Transaction{}, false
	}
	h.pushLocked(tx)
	return tx, true
}

// CancelGroup discards the open transaction without pushing it. Its edits
// stay applied but can no longer be undone.
func (h *History) CancelGroup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grouping = false
	h.group = Transaction{}
}

// IsGrouping reports whether a transaction is open.
func (h *History) IsGrouping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grouping
}

// GroupScope closes a group with defer:
//
//	defer h.GroupScope("reformat").End()
type GroupScope struct {
	history *History
	active  bool
}

// GroupScope opens a group and returns its scope.
func (h *History) GroupScope(name string) *GroupScope {
	h.BeginGroup(name)
	return &GroupScope{history: h, active: true}
}

// End closes the group. Only the first call has an effect.
func (g *GroupScope) End() {
	if g.active {
		g.history.EndGroup()
		g.active = false
	}
}

// Cancel discards the group. Only the first call has an effect.
func (g *GroupScope) Cancel() {
	if g.active {
		g.history.CancelGroup()
		g.active = false
	}
}

// Transaction runs fn inside a group, cancelling the group if fn fails.
func (h *History) Transaction(name string, fn func() error) error {
	h.BeginGroup(name)
	if err := fn(); err != nil {
		h.CancelGroup()
		return err
	}
	h.EndGroup()
	return nil
}

// Checkpoint marks an undo depth to return to.
type Checkpoint struct {
	undoDepth int
}

// CreateCheckpoint records the current undo depth.
func (h *History) CreateCheckpoint() Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Checkpoint{undoDepth: len(h.undoStack)}
}

// UndoToCheckpoint undoes transactions until the checkpoint's depth.
func (h *History) UndoToCheckpoint(cp Checkpoint, r Reverter) error {
	for h.UndoCount() > cp.undoDepth {
		if _, err := h.Undo(r); err != nil {
			return err
		}
	}
	return nil
}

// RedoToCheckpoint redoes transactions until the checkpoint's depth or
// until nothing is left to redo.
func (h *History) RedoToCheckpoint(cp Checkpoint, r Reverter) error {
	for h.UndoCount() < cp.undoDepth && h.CanRedo() {
		if _, err := h.Redo(r); err != nil {
			return err
		}
	}
	return nil
}
