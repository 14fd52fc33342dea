// Package redisbus shares document operations between tandem servers
// through Redis.
//
// Each document uses three keys under a common prefix:
//
//	<prefix><doc>           pub/sub channel carrying new operations
//	<prefix><doc>:log       list of every published batch
//	<prefix><doc>:replicas  counter handing out replica ids
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dshills/tandem/internal/config"
	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/logging"
	"github.com/dshills/tandem/internal/transport"
)

// ErrReplicasExhausted is returned when a document has used every replica id.
var ErrReplicasExhausted = errors.New("replica ids exhausted")

var (
	_ transport.Relay            = (*Bus)(nil)
	_ transport.ReplicaAllocator = (*Bus)(nil)
)

// envelope is one published batch. Origin lets a bus skip its own messages.
type envelope struct {
	Origin uuid.UUID             `json:"origin"`
	Ops    []operation.Operation `json:"ops"`
}

// Bus is a transport.Relay and transport.ReplicaAllocator backed by Redis.
type Bus struct {
	rdb    redis.UniversalClient
	prefix string
	origin uuid.UUID
	logger *logging.Logger

	wg sync.WaitGroup
}

// New creates a bus on rdb. Keys are prefixed with prefix.
func New(rdb redis.UniversalClient, prefix string, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNull()
	}
	return &Bus{
		rdb:    rdb,
		prefix: prefix,
		origin: uuid.New(),
		logger: logger.WithComponent("redisbus"),
	}
}

// Open connects to the server named in cfg and checks it is reachable.
func Open(ctx context.Context, cfg config.RedisConfig, logger *logging.Logger) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg.ChannelPrefix, logger), nil
}

func (b *Bus) channel(docID string) string { return b.prefix + docID }
func (b *Bus) logKey(docID string) string { return b.prefix + docID + ":log" }
func (b *Bus) replicaKey(docID string) string { return b.prefix + docID + ":replicas" }

// Publish appends ops to the document's log and announces them, atomically.
func (b *Bus) Publish(ctx context.Context, docID string, ops []operation.Operation) error {
	batch, err := operation.MarshalBatch(ops)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(envelope{Origin: b.origin, Ops: ops})
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, b.logKey(docID), batch)
	pipe.Publish(ctx, b.channel(docID), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel(docID), err)
	}
	return nil
}

// History returns every batch in the document's log, oldest first.
func (b *Bus) History(ctx context.Context, docID string) ([]operation.Operation, error) {
	batches, err := b.rdb.LRange(ctx, b.logKey(docID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.logKey(docID), err)
	}
	var ops []operation.Operation
	for i, raw := range batches {
		batch, err := operation.UnmarshalBatch([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode batch %d of %s: %w", i, docID, err)
		}
		ops = append(ops, batch...)
	}
	return ops, nil
}

// Subscribe delivers batches published by other buses to fn, one at a time.
// It returns once Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, docID string, fn func([]operation.Operation)) (func() error, error) {
	ps := b.rdb.Subscribe(ctx, b.channel(docID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel(docID), err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed message on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			fn(env.Ops)
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = ps.Close() })
		return err
	}, nil
}

// NextReplica hands out replica ids from a counter shared by every server.
// Ids start above transport.ServerReplica.
func (b *Bus) NextReplica(ctx context.Context, docID string) (clock.ReplicaID, error) {
	n, err := b.rdb.Incr(ctx, b.replicaKey(docID)).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate replica for %s: %w", docID, err)
	}
	id := n + int64(transport.ServerReplica)
	if id > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s", ErrReplicasExhausted, docID)
	}
	return clock.ReplicaID(id), nil
}

// Close waits for subscription goroutines to exit and closes the client.
// Stop every subscription first.
func (b *Bus) Close() error {
	b.wg.Wait()
	return b.rdb.Close()
}
