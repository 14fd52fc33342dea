package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/tandem/internal/engine"
	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/logging"
)

var (
	// ErrHubClosed is returned when joining a hub that has shut down.
	ErrHubClosed = errors.New("hub closed")
	// ErrRejected is returned when a peer sends operations it may not apply.
	// The peer's replica already holds them, so its session cannot continue.
	ErrRejected = errors.New("operations rejected")
)

// Admitter vets a peer's operations before the hub applies them.
type Admitter interface {
	Admit(ctx context.Context, doc string, ops []operation.Operation) error
}

const publishTimeout = 5 * time.Second

// Peer is one connection to a hub.
type Peer struct {
	ID      uuid.UUID
	Replica clock.ReplicaID

	send chan Message
	done chan struct{}
	once sync.Once
}

// Send delivers the messages queued for the peer.
func (p *Peer) Send() <-chan Message {
	return p.send
}

// Done is closed when the hub has dropped the peer.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) close() {
	p.once.Do(func() { close(p.done) })
}

// Hub serves one document. It holds a read-only replica, assigns replica ids
// to joining peers and relays each operation it applies to every peer except
// the one that sent it. Operations are relayed only once applied, so peers
// always receive them in an order their dependencies allow.
type Hub struct {
	docID  string
	engine *engine.Engine
	logger *logging.Logger
	alloc  ReplicaAllocator
	relay  Relay
	admit  Admitter

	sendQueue int

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed bool
	stop   func() error
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub's logger.
func WithHubLogger(l *logging.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHubRelay shares the hub's operations with other server instances.
func WithHubRelay(r Relay) HubOption {
	return func(h *Hub) {
		h.relay = r
	}
}

// WithAllocator sets where replica ids come from.
func WithAllocator(a ReplicaAllocator) HubOption {
	return func(h *Hub) {
		if a != nil {
			h.alloc = a
		}
	}
}

// WithHubAdmitter sets the policy every peer batch must pass.
func WithHubAdmitter(a Admitter) HubOption {
	return func(h *Hub) {
		h.admit = a
	}
}

// WithSendQueue bounds each peer's outgoing queue. A peer that falls that
// far behind is disconnected.
func WithSendQueue(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendQueue = n
		}
	}
}

// NewHub creates the hub for docID. With a relay, the hub subscribes first
// and then replays the relay's history, so nothing published in between is
// missed.
func NewHub(ctx context.Context, docID string, engineOpts []engine.Option, opts ...HubOption) (*Hub, error) {
	h := &Hub{
		docID:     docID,
		logger:    logging.NewNull(),
		alloc:     newLocalAllocator(),
		sendQueue: 256,
		peers:     make(map[*Peer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithField("doc", docID)

	engineOpts = append(engineOpts, engine.WithReadOnly(), engine.WithLogger(h.logger))
	eng, err := engine.New(ServerReplica, engineOpts...)
	if err != nil {
		return nil, err
	}
	h.engine = eng

	if h.relay == nil {
		return h, nil
	}
	stop, err := h.relay.Subscribe(ctx, docID, h.ApplyRemote)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", docID, err)
	}
	h.stop = stop
	history, err := h.relay.History(ctx, docID)
	if err != nil {
		_ = stop()
		return nil, fmt.Errorf("load history of %s: %w", docID, err)
	}
	if len(history) > 0 {
		h.ApplyRemote(history)
		h.logger.Info("replayed %d operations", len(history))
	}
	return h, nil
}

// DocID returns the document the hub serves.
func (h *Hub) DocID() string {
	return h.docID
}

// Engine returns the hub's read-only replica.
func (h *Hub) Engine() *engine.Engine {
	return h.engine
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Join registers a new peer and returns it with its welcome message. The
// snapshot is taken while registering, so every operation applied later
// reaches the peer's queue.
func (h *Hub) Join(ctx context.Context) (*Peer, Message, error) {
	replica, err := h.alloc.NextReplica(ctx, h.docID)
	if err != nil {
		return nil, Message{}, fmt.Errorf("allocate replica: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, Message{}, ErrHubClosed
	}
	data, err := h.engine.SerializeSnapshot()
	if err != nil {
		return nil, Message{}, err
	}
	p := &Peer{
		ID:      uuid.New(),
		Replica: replica,
		send:    make(chan Message, h.sendQueue),
		done:    make(chan struct{}),
	}
	h.peers[p] = struct{}{}
	h.logger.Debug("peer %s joined as replica %d", p.ID, replica)

	return p, Message{
		Type:     TypeWelcome,
		Replica:  replica,
		Snapshot: data,
		Ops:      h.engine.PendingOperations(),
	}, nil
}

// Leave unregisters p.
func (h *Hub) Leave(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; ok {
		delete(h.peers, p)
		h.logger.Debug("peer %s left", p.ID)
	}
	p.close()
}

// Receive applies operations sent by from and relays whatever was applied.
// A peer may only send operations it issued itself. A batch refused by
// authorship or policy is dropped whole and the error wraps ErrRejected;
// otherwise the returned error reports operations that failed validation.
func (h *Hub) Receive(ctx context.Context, from *Peer, ops []operation.Operation) error {
	if err := h.vet(ctx, from, ops); err != nil {
		h.logger.Warn("peer %s: %v", from.ID, err)
		return err
	}

	h.mu.Lock()
	applied, err := h.engine.ReceiveBatch(ops)
	h.fanOutLocked(from, opsMessage(applied))
	h.mu.Unlock()

	if h.relay != nil && len(applied) > 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if perr := h.relay.Publish(ctx, h.docID, applied); perr != nil {
			h.logger.Error("publish %d operations: %v", len(applied), perr)
		}
	}
	return err
}

func (h *Hub) vet(ctx context.Context, from *Peer, ops []operation.Operation) error {
	for _, op := range ops {
		if op.ID.Replica != from.Replica {
			return fmt.Errorf("%w: %v was not issued by replica %d", ErrRejected, op.ID, from.Replica)
		}
	}
	if h.admit == nil {
		return nil
	}
	if err := h.admit.Admit(ctx, h.docID, ops); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return nil
}

// ApplyRemote applies operations published by another server instance and
// relays them to every local peer.
func (h *Hub) ApplyRemote(ops []operation.Operation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	applied, _ := h.engine.ReceiveBatch(ops)
	h.fanOutLocked(nil, opsMessage(applied))
}

// SendTo queues msg for p alone.
func (h *Hub) SendTo(p *Peer, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; ok {
		h.enqueueLocked(p, msg)
	}
}

func (h *Hub) fanOutLocked(from *Peer, msg Message) {
	if len(msg.Ops) == 0 {
		return
	}
	for p := range h.peers {
		if p != from {
			h.enqueueLocked(p, msg)
		}
	}
}

// enqueueLocked never blocks. Dropping a message would leave the peer
// without operations later ones depend on, so a full queue drops the peer.
func (h *Hub) enqueueLocked(p *Peer, msg Message) {
	select {
	case p.send <- msg:
	default:
		delete(h.peers, p)
		p.close()
		h.logger.Warn("peer %s fell behind, disconnecting", p.ID)
	}
}

// Close disconnects every peer and stops the relay subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for p := range h.peers {
		p.close()
	}
	clear(h.peers)
	stop := h.stop
	h.mu.Unlock()

	if stop != nil {
		return stop()
	}
	return nil
}
