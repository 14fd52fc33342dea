package engine

import (
	"errors"

	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/engine/history"
)

// Errors returned by engine operations.
var (
	// ErrInvalidOffset indicates an offset outside the document or inside a
	// UTF-8 sequence.
	ErrInvalidOffset = buffer.ErrInvalidOffset

	// ErrCorruptOperation marks a received operation that was rejected.
	ErrCorruptOperation = buffer.ErrCorruptOperation

	// ErrUnknownAnchor indicates an anchor that does not belong to the document.
	ErrUnknownAnchor = buffer.ErrUnknownAnchor

	// ErrNothingToUndo indicates the undo stack is empty.
	ErrNothingToUndo = history.ErrNothingToUndo

	// ErrNothingToRedo indicates the redo stack is empty.
	ErrNothingToRedo = history.ErrNothingToRedo

	// ErrReadOnly indicates a local edit was attempted on a read-only engine.
	ErrReadOnly = errors.New("engine is read-only")
)
