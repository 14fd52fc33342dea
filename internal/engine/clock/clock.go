// Package clock provides the logical clocks used to order and track
// replicated edits: per-replica operation ids, Lamport timestamps and
// version vectors.
package clock

import (
	"cmp"
	"fmt"
	"math"
)

// ReplicaID identifies one participant in an editing session.
// Replica 0 is reserved for the base text and sentinels.
type ReplicaID uint16

// Reserved is the replica id owning the base text and the end sentinel.
const Reserved ReplicaID = 0

// Local identifies one operation: the issuing replica and its counter.
// Counters are dense per replica and start at 1.
type Local struct {
	Replica ReplicaID `json:"replica"`
	Value   uint32    `json:"counter"`
}

// Base is the id of the initial text every replica starts with.
var Base = Local{Replica: Reserved, Value: 0}

// End is the end-of-document sentinel used as an insertion parent.
var End = Local{Replica: Reserved, Value: math.MaxUint32}

// IsZero reports whether l is the zero id.
func (l Local) IsZero() bool {
	return l == Local{}
}

// Compare orders ids by replica, then counter.
func (l Local) Compare(other Local) int {
	if c := cmp.Compare(l.Replica, other.Replica); c != 0 {
		return c
	}
	return cmp.Compare(l.Value, other.Value)
}

// String formats the id as replica.counter.
func (l Local) String() string {
	return fmt.Sprintf("%d.%d", l.Replica, l.Value)
}

// Lamport is a Lamport timestamp tagged with its replica. Timestamps are
// totally ordered by value, then replica.
type Lamport struct {
	Replica ReplicaID `json:"replica"`
	Value   uint32    `json:"value"`
}

// Compare orders timestamps by value, breaking ties by replica.
func (l Lamport) Compare(other Lamport) int {
	if c := cmp.Compare(l.Value, other.Value); c != 0 {
		return c
	}
	return cmp.Compare(l.Replica, other.Replica)
}

// Less reports whether l orders before other.
func (l Lamport) Less(other Lamport) bool {
	return l.Compare(other) < 0
}

// String formats the timestamp as value@replica.
func (l Lamport) String() string {
	return fmt.Sprintf("%d@%d", l.Value, l.Replica)
}

// LocalClock hands out dense operation ids for one replica.
type LocalClock struct {
	replica ReplicaID
	value   uint32
}

// NewLocalClock returns a clock whose first tick is counter 1.
func NewLocalClock(replica ReplicaID) *LocalClock {
	return &LocalClock{replica: replica}
}

// Tick returns the next operation id.
func (c *LocalClock) Tick() Local {
	c.value++
	return Local{Replica: c.replica, Value: c.value}
}

// Observe advances the clock past id when id belongs to this replica.
// It keeps counters unique after a replica reloads its own operations.
func (c *LocalClock) Observe(id Local) {
	if id.Replica == c.replica && id.Value > c.value {
		c.value = id.Value
	}
}

// Current returns the last id handed out, or the zero counter if none.
func (c *LocalClock) Current() Local {
	return Local{Replica: c.replica, Value: c.value}
}

// LamportClock is a replica's Lamport clock.
type LamportClock struct {
	replica ReplicaID
	value   uint32
}

// NewLamportClock returns a Lamport clock starting at zero.
func NewLamportClock(replica ReplicaID) *LamportClock {
	return &LamportClock{replica: replica}
}

// Tick advances the clock and returns the new timestamp.
func (c *LamportClock) Tick() Lamport {
	c.value++
	return Lamport{Replica: c.replica, Value: c.value}
}

// Observe advances the clock to at least the observed timestamp.
func (c *LamportClock) Observe(ts Lamport) {
	if ts.Value > c.value {
		c.value = ts.Value
	}
}

// Current returns the clock's current timestamp without advancing it.
func (c *LamportClock) Current() Lamport {
	return Lamport{Replica: c.replica, Value: c.value}
}
