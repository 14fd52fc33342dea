// Package operation defines the replicated edit operations exchanged between
// replicas, their structural validation and their JSON wire form.
package operation

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/dshills/tandem/internal/engine/clock"
)

// ErrInvalid marks an operation that is structurally malformed.
var ErrInvalid = errors.New("invalid operation")

// Kind discriminates the operation variants.
type Kind string

// Operation kinds.
const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Bias selects which side of a character an anchor sticks to.
type Bias uint8

// Anchor biases.
const (
	// BiasLeft attaches to the character before the position.
	BiasLeft Bias = iota
	// BiasRight attaches to the character after the position.
	BiasRight
)

// String returns "left" or "right".
func (b Bias) String() string {
	if b == BiasLeft {
		return "left"
	}
	return "right"
}

// Insert places Text immediately before character AnchorOffset of the
// insertion Anchor, or at the end of the document when Anchor is clock.End.
// Insert anchors are always right-biased.
type Insert struct {
	Anchor       clock.Local
	AnchorOffset int
	Bias         Bias
	Text         string
}

// Range addresses characters [Start, End) of one insertion, in bytes of that
// insertion's original text.
type Range struct {
	Insertion clock.Local
	Start     int
	End       int
}

// Len returns the byte length of the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Delete tombstones every character in Ranges.
type Delete struct {
	Ranges []Range
}

// Operation is one replicated edit. Version is the issuing replica's version
// vector before the edit; the operation may be applied once the receiver has
// observed everything Version covers.
type Operation struct {
	ID      clock.Local
	Lamport clock.Lamport
	Version clock.Global
	Kind    Kind
	Insert  *Insert
	Delete  *Delete
}

// NewInsert builds an insert operation.
func NewInsert(id clock.Local, lamport clock.Lamport, version clock.Global, anchor clock.Local, offset int, text string) Operation {
	return Operation{
		ID:      id,
		Lamport: lamport,
		Version: version,
		Kind:    KindInsert,
		Insert:  &Insert{Anchor: anchor, AnchorOffset: offset, Bias: BiasRight, Text: text},
	}
}

// NewDelete builds a delete operation.
func NewDelete(id clock.Local, lamport clock.Lamport, version clock.Global, ranges []Range) Operation {
	return Operation{
		ID:      id,
		Lamport: lamport,
		Version: version,
		Kind:    KindDelete,
		Delete:  &Delete{Ranges: ranges},
	}
}

// String summarizes the operation for logs.
func (op Operation) String() string {
	switch op.Kind {
	case KindInsert:
		if op.Insert != nil {
			return fmt.Sprintf("insert %v@%v %q before %v+%d", op.ID, op.Lamport, op.Insert.Text, op.Insert.Anchor, op.Insert.AnchorOffset)
		}
	case KindDelete:
		if op.Delete != nil {
			return fmt.Sprintf("delete %v@%v %d ranges", op.ID, op.Lamport, len(op.Delete.Ranges))
		}
	}
	return fmt.Sprintf("%s %v", op.Kind, op.ID)
}

// Validate checks the operation's internal consistency. It cannot check
// references to insertions; the buffer does that when applying.
func (op Operation) Validate() error {
	if op.ID.Replica == clock.Reserved {
		return fmt.Errorf("%w: replica %d is reserved", ErrInvalid, op.ID.Replica)
	}
	if op.ID.Value == 0 {
		return fmt.Errorf("%w: counter must be positive", ErrInvalid)
	}
	if op.Lamport.Replica != op.ID.Replica || op.Lamport.Value == 0 {
		return fmt.Errorf("%w: lamport timestamp %v does not belong to %v", ErrInvalid, op.Lamport, op.ID)
	}
	if got := op.Version.Get(op.ID.Replica); got != op.ID.Value-1 {
		return fmt.Errorf("%w: version %v does not directly precede %v", ErrInvalid, op.Version, op.ID)
	}

	switch op.Kind {
	case KindInsert:
		if op.Insert == nil || op.Delete != nil {
			return fmt.Errorf("%w: insert must carry only an insert payload", ErrInvalid)
		}
		return op.Insert.validate()
	case KindDelete:
		if op.Delete == nil || op.Insert != nil {
			return fmt.Errorf("%w: delete must carry only a delete payload", ErrInvalid)
		}
		return op.Delete.validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, op.Kind)
	}
}

func (ins *Insert) validate() error {
	if ins.Text == "" {
		return fmt.Errorf("%w: empty insert", ErrInvalid)
	}
	if !utf8.ValidString(ins.Text) {
		return fmt.Errorf("%w: insert text is not valid UTF-8", ErrInvalid)
	}
	if ins.Bias != BiasRight {
		return fmt.Errorf("%w: insert anchors must be right-biased", ErrInvalid)
	}
	if ins.AnchorOffset < 0 {
		return fmt.Errorf("%w: negative anchor offset %d", ErrInvalid, ins.AnchorOffset)
	}
	if ins.Anchor == clock.End && ins.AnchorOffset != 0 {
		return fmt.Errorf("%w: end anchor with offset %d", ErrInvalid, ins.AnchorOffset)
	}
	return nil
}

func (del *Delete) validate() error {
	if len(del.Ranges) == 0 {
		return fmt.Errorf("%w: delete without ranges", ErrInvalid)
	}
	for _, r := range del.Ranges {
		if r.Start < 0 || r.Start >= r.End {
			return fmt.Errorf("%w: range [%d, %d) of %v", ErrInvalid, r.Start, r.End, r.Insertion)
		}
		if r.Insertion == clock.End {
			return fmt.Errorf("%w: range on the end sentinel", ErrInvalid)
		}
	}
	sorted := slices.SortedFunc(slices.Values(del.Ranges), func(a, b Range) int {
		if c := a.Insertion.Compare(b.Insertion); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
	for i := 1; i < len(sorted); i++ {
		prev, r := sorted[i-1], sorted[i]
		if r.Insertion == prev.Insertion && r.Start < prev.End {
			return fmt.Errorf("%w: ranges [%d, %d) and [%d, %d) of %v overlap", ErrInvalid, prev.Start, prev.End, r.Start, r.End, r.Insertion)
		}
	}
	return nil
}
