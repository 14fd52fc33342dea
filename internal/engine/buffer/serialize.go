package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/rope"
	"github.com/dshills/tandem/internal/engine/sumtree"
)

// ErrInvalidSnapshot is returned when serialized state cannot be loaded.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

type snapshotWire struct {
	Version   clock.Global   `json:"version"`
	Lamport   uint32         `json:"lamport"`
	Fragments []fragmentWire `json:"fragments"`
}

type fragmentWire struct {
	Insertion    clock.Local   `json:"insertion"`
	Lamport      clock.Lamport `json:"lamport"`
	Offset       int           `json:"offset"`
	Text         string        `json:"text"`
	Parent       clock.Local   `json:"parent"`
	ParentOffset int           `json:"parent_offset"`
	Deletions    []clock.Local `json:"deletions,omitempty"`
}

// MarshalJSON serializes the full replicated state, tombstones included, so
// a new replica can join from it.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	w := snapshotWire{
		Version:   s.version,
		Lamport:   s.lamport.Value,
		Fragments: make([]fragmentWire, 0, s.st.fragments.Len()),
	}
	if w.Version == nil {
		w.Version = clock.Global{}
	}
	s.st.fragments.Ascend(0, func(_ int, f Fragment) bool {
		w.Fragments = append(w.Fragments, fragmentWire{
			Insertion:    f.Insertion,
			Lamport:      f.Lamport,
			Offset:       f.Offset,
			Text:         f.Text,
			Parent:       f.Parent,
			ParentOffset: f.ParentOffset,
			Deletions:    f.deletions(),
		})
		return true
	})
	return json.Marshal(w)
}

// SerializeSnapshot serializes the buffer's current state.
func (b *Buffer) SerializeSnapshot() ([]byte, error) {
	return b.Snapshot().MarshalJSON()
}

// LoadSnapshot creates a buffer for replica from a serialized snapshot.
// Operations the snapshot already covers are treated as duplicates afterwards.
func LoadSnapshot(replica clock.ReplicaID, data []byte, opts ...Option) (*Buffer, error) {
	if replica == clock.Reserved {
		return nil, ErrReservedReplica
	}
	var w snapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	st := state{index: newInsertionIndex()}
	frags := make([]Fragment, len(w.Fragments))
	prev := minLocator
	visible := rope.NewBuilder()
	for i, fw := range w.Fragments {
		if fw.Text == "" || !utf8.ValidString(fw.Text) {
			return nil, fmt.Errorf("%w: fragment %d has empty or invalid text", ErrInvalidSnapshot, i)
		}
		f := Fragment{
			ID:           between(prev, maxLocator),
			Insertion:    fw.Insertion,
			Lamport:      fw.Lamport,
			Offset:       fw.Offset,
			Text:         fw.Text,
			Parent:       fw.Parent,
			ParentOffset: fw.ParentOffset,
		}
		if len(fw.Deletions) > 0 {
			f.Deletions = mapset.NewThreadUnsafeSet(fw.Deletions...)
		} else if _, err := visible.WriteString(f.Text); err != nil {
			return nil, err
		}
		if _, dup := st.index.containing(f.Insertion, f.Offset); dup {
			return nil, fmt.Errorf("%w: fragments of %v overlap", ErrInvalidSnapshot, f.Insertion)
		}
		st.index.set(indexEntry{Insertion: f.Insertion, Offset: f.Offset, Len: f.Len(), Fragment: f.ID})
		frags[i] = f
		prev = f.ID
	}
	st.fragments = sumtree.FromItems[Fragment, FragmentSummary](frags)
	st.visible = visible.Build()

	if err := checkTiling(st.index); err != nil {
		return nil, err
	}
	if err := st.check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	b := newBuffer(replica, opts...)
	b.st = st
	if w.Version != nil {
		b.version = w.Version.Clone()
	}
	b.local.Observe(clock.Local{Replica: replica, Value: b.version.Get(replica)})
	b.lamport.Observe(clock.Lamport{Value: w.Lamport})
	b.publish()
	return b, nil
}

// checkTiling verifies that each insertion's fragments cover its text from
// offset 0 without gaps.
func checkTiling(ix insertionIndex) error {
	var (
		cur  clock.Local
		next int
		err  error
		seen bool
	)
	ix.scan(func(e indexEntry) bool {
		if !seen || e.Insertion != cur {
			cur, next, seen = e.Insertion, 0, true
		}
		if e.Offset != next {
			err = fmt.Errorf("%w: gap in insertion %v at %d", ErrInvalidSnapshot, cur, next)
			return false
		}
		next = e.end()
		return true
	})
	return err
}
