package clock

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Global is a version vector: for each replica, the highest contiguous
// operation counter applied. A nil Global is an empty vector for reads.
type Global map[ReplicaID]uint32

// NewGlobal returns an empty version vector.
func NewGlobal() Global {
	return make(Global)
}

// Get returns the counter recorded for replica.
func (g Global) Get(replica ReplicaID) uint32 {
	return g[replica]
}

// Observe records id as applied.
func (g Global) Observe(id Local) {
	if id.Value > g[id.Replica] {
		g[id.Replica] = id.Value
	}
}

// Observed reports whether id is covered by the vector.
func (g Global) Observed(id Local) bool {
	return g[id.Replica] >= id.Value
}

// ObservedAll reports whether g dominates other: every operation covered by
// other is covered by g.
func (g Global) ObservedAll(other Global) bool {
	for r, v := range other {
		if g[r] < v {
			return false
		}
	}
	return true
}

// ChangedSince reports whether g covers any operation other does not.
func (g Global) ChangedSince(other Global) bool {
	for r, v := range g {
		if v > other[r] {
			return true
		}
	}
	return false
}

// Join raises g to the component-wise maximum of g and other.
func (g Global) Join(other Global) {
	for r, v := range other {
		if v > g[r] {
			g[r] = v
		}
	}
}

// Meet returns the component-wise minimum of g and other. Replicas missing
// from either side are absent from the result.
func (g Global) Meet(other Global) Global {
	out := make(Global)
	for r, v := range g {
		if ov, ok := other[r]; ok {
			out[r] = min(v, ov)
		}
	}
	return out
}

// Clone returns an independent copy of g.
func (g Global) Clone() Global {
	out := make(Global, len(g))
	maps.Copy(out, g)
	return out
}

// Equal reports whether both vectors cover exactly the same operations.
// Zero entries are ignored.
func (g Global) Equal(other Global) bool {
	return g.ObservedAll(other) && other.ObservedAll(g)
}

// Replicas returns the replicas present in g in ascending order.
func (g Global) Replicas() []ReplicaID {
	return slices.Sorted(maps.Keys(g))
}

// String formats the vector deterministically, e.g. {1:4 2:7}.
func (g Global) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, r := range g.Replicas() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(int(r)))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(uint64(g[r]), 10))
	}
	sb.WriteByte('}')
	return sb.String()
}
