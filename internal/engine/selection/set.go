package selection

import (
	"slices"

	"github.com/dshills/tandem/internal/engine/buffer"
)

// Set is an ordered group of selections with a primary one. It is not safe
// for concurrent use.
type Set struct {
	selections []Selection
	primary    int
}

// NewSet returns a set holding sel as its primary selection.
func NewSet(sel Selection) *Set {
	return &Set{selections: []Selection{sel}}
}

// Primary returns the primary selection.
func (s *Set) Primary() Selection {
	return s.selections[s.primary]
}

// All returns a copy of the selections.
func (s *Set) All() []Selection {
	return slices.Clone(s.selections)
}

// Count returns the number of selections.
func (s *Set) Count() int {
	return len(s.selections)
}

// IsMulti reports whether the set holds more than one selection.
func (s *Set) IsMulti() bool {
	return len(s.selections) > 1
}

// Add appends sel and makes it primary.
func (s *Set) Add(sel Selection) {
	s.selections = append(s.selections, sel)
	s.primary = len(s.selections) - 1
}

// Replace drops every selection and keeps only sel.
func (s *Set) Replace(sel Selection) {
	s.selections = []Selection{sel}
	s.primary = 0
}

// SetAll replaces the selections. primary is clamped into range; an empty
// slice leaves the set unchanged.
func (s *Set) SetAll(sels []Selection, primary int) {
	if len(sels) == 0 {
		return
	}
	s.selections = slices.Clone(sels)
	s.primary = min(max(primary, 0), len(sels)-1)
}

// Collapse keeps only the primary selection.
func (s *Set) Collapse() {
	s.Replace(s.Primary())
}

// Spans resolves every selection against snap, sorted by position with
// touching spans merged. The index of the span containing the primary
// selection is returned alongside.
func (s *Set) Spans(snap *buffer.Snapshot) ([]Span, int, error) {
	type entry struct {
		span    Span
		primary bool
	}
	entries := make([]entry, len(s.selections))
	for i, sel := range s.selections {
		span, err := sel.Resolve(snap)
		if err != nil {
			return nil, 0, err
		}
		entries[i] = entry{span: span, primary: i == s.primary}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		if a.span.Start() != b.span.Start() {
			return int(a.span.Start() - b.span.Start())
		}
		return int(b.span.End() - a.span.End())
	})

	spans := []Span{entries[0].span}
	primary := 0
	for _, e := range entries[1:] {
		last := &spans[len(spans)-1]
		if e.span.Start() < last.End() || e.span.Start() == last.End() && (e.span.IsEmpty() || last.IsEmpty()) {
			*last = last.Merge(e.span)
		} else {
			spans = append(spans, e.span)
		}
		if e.primary {
			primary = len(spans) - 1
		}
	}
	return spans, primary, nil
}

// Normalize re-anchors the set from its merged spans in snap.
func (s *Set) Normalize(snap *buffer.Snapshot) error {
	spans, primary, err := s.Spans(snap)
	if err != nil {
		return err
	}
	sels := make([]Selection, len(spans))
	for i, span := range spans {
		if sels[i], err = New(snap, span); err != nil {
			return err
		}
	}
	s.selections = sels
	s.primary = primary
	return nil
}
