package buffer

import (
	"errors"
	"fmt"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/rope"
)

// Errors returned by buffer operations.
var (
	// ErrInvalidOffset is rope.ErrInvalidOffset, so callers can match either.
	ErrInvalidOffset = rope.ErrInvalidOffset
	// ErrCorruptOperation matches every *CorruptOperationError.
	ErrCorruptOperation = errors.New("corrupt operation")
	// ErrUnknownAnchor is returned for anchors that reference insertions this
	// replica has never seen.
	ErrUnknownAnchor = errors.New("unknown anchor")
	// ErrReservedReplica is returned when a buffer is created for replica 0.
	ErrReservedReplica = errors.New("replica id is reserved")
	// ErrNothingToRevert is returned by Revert when every inverse is empty.
	ErrNothingToRevert = errors.New("nothing to revert")
)

// CorruptOperationError reports an operation that was rejected without being
// applied.
type CorruptOperationError struct {
	ID     clock.Local
	Reason string
	Err    error
}

func (e *CorruptOperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt operation %v: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt operation %v: %s", e.ID, e.Reason)
}

// Is matches ErrCorruptOperation.
func (e *CorruptOperationError) Is(target error) bool {
	return target == ErrCorruptOperation
}

func (e *CorruptOperationError) Unwrap() error {
	return e.Err
}

func corrupt(id clock.Local, reason string, err error) error {
	return &CorruptOperationError{ID: id, Reason: reason, Err: err}
}
