package transport

import (
	"context"
	"sync"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
)

// ServerReplica is the replica id of every hub's own read-only replica. It
// never issues operations, so instances may share it.
const ServerReplica clock.ReplicaID = 1

// Relay shares operations between server instances hosting the same
// document.
type Relay interface {
	// Publish sends operations applied by this instance to the others.
	Publish(ctx context.Context, docID string, ops []operation.Operation) error
	// Subscribe delivers operations published by other instances until the
	// returned stop function is called. It returns once the subscription is
	// active.
	Subscribe(ctx context.Context, docID string, fn func([]operation.Operation)) (stop func() error, err error)
	// History returns every operation published for the document so far.
	History(ctx context.Context, docID string) ([]operation.Operation, error)
}

// ReplicaAllocator hands out replica ids for a document. Ids must never be
// reused, including across server instances.
type ReplicaAllocator interface {
	NextReplica(ctx context.Context, docID string) (clock.ReplicaID, error)
}

// localAllocator numbers replicas per document from ServerReplica+1.
type localAllocator struct {
	mu   sync.Mutex
	next map[string]clock.ReplicaID
}

func newLocalAllocator() *localAllocator {
	return &localAllocator{next: make(map[string]clock.ReplicaID)}
}

func (a *localAllocator) NextReplica(_ context.Context, docID string) (clock.ReplicaID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := max(a.next[docID], ServerReplica+1)
	a.next[docID] = id + 1
	return id, nil
}
