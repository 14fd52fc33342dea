package oplog

import (
	"errors"
	"sync"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
)

// ErrCompacted is returned by Since when the requested tail reaches behind
// the compaction floor.
var ErrCompacted = errors.New("operations already compacted")

// Option configures a Log.
type Option func(*Log)

// WithCapacity preallocates room for n operations.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.entries = make([]operation.Operation, 0, n)
		}
	}
}

// WithFloor starts the log as if everything floor covers had been appended
// and compacted, for a replica bootstrapped from a snapshot.
func WithFloor(floor clock.Global) Option {
	return func(l *Log) {
		l.floor.Join(floor)
		l.covered.Join(floor)
	}
}

// Log records applied operations. All methods are safe for concurrent use.
type Log struct {
	mu sync.RWMutex

	entries []operation.Operation
	byID    map[clock.Local]operation.Operation

	// covered is the version vector of every operation ever appended.
	covered clock.Global
	// floor is the version vector of compacted operations.
	floor clock.Global
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		byID:    make(map[clock.Local]operation.Operation),
		covered: clock.NewGlobal(),
		floor:   clock.NewGlobal(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records operations in order, skipping ids already present or
// compacted. It returns how many were recorded.
func (l *Log) Append(ops ...operation.Operation) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, op := range ops {
		if _, ok := l.byID[op.ID]; ok || l.floor.Observed(op.ID) {
			continue
		}
		l.entries = append(l.entries, op)
		l.byID[op.ID] = op
		l.covered.Observe(op.ID)
		n++
	}
	return n
}

// Get returns the operation with the given id.
func (l *Log) Get(id clock.Local) (operation.Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	op, ok := l.byID[id]
	return op, ok
}

// GetAll returns the operations for ids in the given order. It fails with
// false if any id is missing.
func (l *Log) GetAll(ids []clock.Local) ([]operation.Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ops := make([]operation.Operation, 0, len(ids))
	for _, id := range ids {
		op, ok := l.byID[id]
		if !ok {
			return nil, false
		}
		ops = append(ops, op)
	}
	return ops, true
}

// Len returns the number of retained operations.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// All returns a copy of the retained operations in application order.
func (l *Log) All() []operation.Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]operation.Operation(nil), l.entries...)
}

// Since returns the operations not covered by version, in application
// order. Replaying them in that order satisfies every dependency.
func (l *Log) Since(version clock.Global) ([]operation.Operation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !version.ObservedAll(l.floor) {
		return nil, ErrCompacted
	}
	var out []operation.Operation
	for _, op := range l.entries {
		if !version.Observed(op.ID) {
			out = append(out, op)
		}
	}
	return out, nil
}

// Version returns the vector of everything ever appended.
func (l *Log) Version() clock.Global {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.covered.Clone()
}

// Floor returns the vector of compacted operations.
func (l *Log) Floor() clock.Global {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floor.Clone()
}

// Compact drops operations covered by stable, a vector every replica is
// known to have reached, and returns how many were dropped.
func (l *Log) Compact(stable clock.Global) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	dropped := 0
	for _, op := range l.entries {
		if stable.Observed(op.ID) {
			delete(l.byID, op.ID)
			dropped++
			continue
		}
		kept = append(kept, op)
	}
	clear(l.entries[len(kept):])
	l.entries = kept
	l.floor.Join(stable.Meet(l.covered))
	return dropped
}
