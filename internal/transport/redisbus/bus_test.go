package redisbus

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dshills/tandem/internal/engine"
	"github.com/dshills/tandem/internal/engine/operation"
)

// newBus connects to TANDEM_TEST_REDIS (default localhost:6379) or skips.
// Every test gets its own key prefix.
func newBus(t *testing.T) *Bus {
	t.Helper()
	addr := os.Getenv("TANDEM_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	prefix := "tandem-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		_ = rdb.Close()
	})
	return New(rdb, prefix, nil)
}

// sibling shares b's client and prefix but has its own origin, like a bus in
// another server process.
func sibling(b *Bus) *Bus {
	return New(b.rdb, b.prefix, nil)
}

func edits(t *testing.T, texts ...string) []operation.Operation {
	t.Helper()
	var ops []operation.Operation
	e, err := engine.New(2, engine.WithBroadcaster(engine.BroadcastFunc(func(batch []operation.Operation) {
		ops = append(ops, batch...)
	})))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range texts {
		if _, err := e.Insert(e.Len(), s); err != nil {
			t.Fatal(err)
		}
	}
	return ops
}

func TestPublishAppendsHistory(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()
	ops := edits(t, "a", "b", "c")

	if err := b.Publish(ctx, "doc", ops[:2]); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "doc", ops[2:]); err != nil {
		t.Fatal(err)
	}

	got, err := b.History(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("history has %d ops, want 3", len(got))
	}
	for i := range ops {
		if got[i].ID != ops[i].ID {
			t.Errorf("history[%d] = %v, want %v", i, got[i].ID, ops[i].ID)
		}
	}

	other, err := b.History(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated document has %d ops", len(other))
	}
}

func TestSubscribeSkipsOwnMessages(t *testing.T) {
	a := newBus(t)
	b := sibling(a)
	ctx := context.Background()

	fromA := make(chan []operation.Operation, 4)
	fromB := make(chan []operation.Operation, 4)
	stopA, err := a.Subscribe(ctx, "doc", func(ops []operation.Operation) { fromA <- ops })
	if err != nil {
		t.Fatal(err)
	}
	defer stopA()
	stopB, err := b.Subscribe(ctx, "doc", func(ops []operation.Operation) { fromB <- ops })
	if err != nil {
		t.Fatal(err)
	}
	defer stopB()

	ops := edits(t, "x")
	if err := a.Publish(ctx, "doc", ops); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-fromB:
		if len(got) != 1 || got[0].ID != ops[0].ID {
			t.Errorf("received %v, want %v", got, ops)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sibling bus received nothing")
	}
	select {
	case got := <-fromA:
		t.Errorf("publisher received its own batch %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNextReplicaIsShared(t *testing.T) {
	a := newBus(t)
	b := sibling(a)
	ctx := context.Background()

	seen := make(map[uint16]bool)
	for i := range 6 {
		bus := a
		if i%2 == 1 {
			bus = b
		}
		id, err := bus.NextReplica(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if id < 2 {
			t.Errorf("NextReplica = %d, want ids above the server replica", id)
		}
		if seen[uint16(id)] {
			t.Errorf("replica %d handed out twice", id)
		}
		seen[uint16(id)] = true
	}
}

func TestNextReplicaExhausted(t *testing.T) {
	b := newBus(t)
	ctx := context.Background()
	if err := b.rdb.Set(ctx, b.replicaKey("doc"), 1<<16, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.NextReplica(ctx, "doc"); !errors.Is(err, ErrReplicasExhausted) {
		t.Errorf("NextReplica = %v, want ErrReplicasExhausted", err)
	}
}
