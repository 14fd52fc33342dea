package oplog

import (
	"errors"
	"sync"
	"testing"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
)

func insertOp(replica clock.ReplicaID, counter uint32, text string) operation.Operation {
	version := clock.Global{}
	if counter > 1 {
		version[replica] = counter - 1
	}
	return operation.NewInsert(
		clock.Local{Replica: replica, Value: counter},
		clock.Lamport{Replica: replica, Value: counter},
		version, clock.End, 0, text)
}

func TestAppendAndGet(t *testing.T) {
	l := New(WithCapacity(8))
	a1, a2, b1 := insertOp(1, 1, "a"), insertOp(1, 2, "b"), insertOp(2, 1, "c")

	if n := l.Append(a1, b1, a2); n != 3 {
		t.Fatalf("Append returned %d", n)
	}
	if n := l.Append(a1); n != 0 {
		t.Errorf("duplicate Append returned %d", n)
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d", l.Len())
	}

	got, ok := l.Get(b1.ID)
	if !ok || got.Insert.Text != "c" {
		t.Errorf("Get(%v) = %v, %v", b1.ID, got, ok)
	}
	if _, ok := l.Get(clock.Local{Replica: 9, Value: 1}); ok {
		t.Error("Get of unknown id succeeded")
	}

	all := l.All()
	if len(all) != 3 || all[0].ID != a1.ID || all[1].ID != b1.ID || all[2].ID != a2.ID {
		t.Errorf("All() not in append order: %v", all)
	}
	if !l.Version().Equal(clock.Global{1: 2, 2: 1}) {
		t.Errorf("Version() = %v", l.Version())
	}
}

func TestGetAll(t *testing.T) {
	l := New()
	a1, a2 := insertOp(1, 1, "a"), insertOp(1, 2, "b")
	l.Append(a1, a2)

	ops, ok := l.GetAll([]clock.Local{a2.ID, a1.ID})
	if !ok || len(ops) != 2 || ops[0].ID != a2.ID {
		t.Errorf("GetAll = %v, %v", ops, ok)
	}
	if _, ok := l.GetAll([]clock.Local{a1.ID, {Replica: 3, Value: 1}}); ok {
		t.Error("GetAll with a missing id succeeded")
	}
}

func TestSince(t *testing.T) {
	l := New()
	l.Append(insertOp(1, 1, "a"), insertOp(2, 1, "b"), insertOp(1, 2, "c"), insertOp(2, 2, "d"))

	tests := []struct {
		name    string
		version clock.Global
		want    []string
	}{
		{"from scratch", clock.Global{}, []string{"a", "b", "c", "d"}},
		{"nil vector", nil, []string{"a", "b", "c", "d"}},
		{"partial", clock.Global{1: 1, 2: 2}, []string{"c"}},
		{"up to date", clock.Global{1: 2, 2: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := l.Since(tt.version)
			if err != nil {
				t.Fatal(err)
			}
			if len(ops) != len(tt.want) {
				t.Fatalf("Since returned %d ops, want %d", len(ops), len(tt.want))
			}
			for i, op := range ops {
				if op.Insert.Text != tt.want[i] {
					t.Errorf("op %d = %q, want %q", i, op.Insert.Text, tt.want[i])
				}
			}
		})
	}
}

func TestCompact(t *testing.T) {
	l := New()
	l.Append(insertOp(1, 1, "a"), insertOp(2, 1, "b"), insertOp(1, 2, "c"))

	if n := l.Compact(clock.Global{1: 1, 2: 1}); n != 2 {
		t.Fatalf("Compact dropped %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d", l.Len())
	}
	if !l.Floor().Equal(clock.Global{1: 1, 2: 1}) {
		t.Errorf("Floor() = %v", l.Floor())
	}

	if _, err := l.Since(clock.Global{1: 1}); !errors.Is(err, ErrCompacted) {
		t.Errorf("Since behind floor error = %v", err)
	}
	ops, err := l.Since(clock.Global{1: 1, 2: 1})
	if err != nil || len(ops) != 1 || ops[0].Insert.Text != "c" {
		t.Errorf("Since at floor = %v, %v", ops, err)
	}

	// Compacted ids are not re-recorded.
	if n := l.Append(insertOp(1, 1, "a")); n != 0 {
		t.Errorf("Append of compacted op returned %d", n)
	}
}

func TestCompactFloorNeverExceedsLog(t *testing.T) {
	l := New()
	l.Append(insertOp(1, 1, "a"))
	l.Compact(clock.Global{1: 5, 3: 2})
	if !l.Floor().Equal(clock.Global{1: 1}) {
		t.Errorf("Floor() = %v, want {1:1}", l.Floor())
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for r := clock.ReplicaID(1); r <= 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := uint32(1); c <= 100; c++ {
				l.Append(insertOp(r, c, "x"))
				l.Since(clock.Global{})
			}
		}()
	}
	wg.Wait()
	if l.Len() != 400 {
		t.Errorf("Len() = %d", l.Len())
	}
}

func TestWithFloor(t *testing.T) {
	l := New(WithFloor(clock.Global{1: 2}))
	if n := l.Append(insertOp(1, 2, "old"), insertOp(1, 3, "new")); n != 1 {
		t.Fatalf("Append returned %d, want 1", n)
	}
	if _, err := l.Since(clock.Global{1: 1}); !errors.Is(err, ErrCompacted) {
		t.Errorf("Since behind floor = %v, want ErrCompacted", err)
	}
	ops, err := l.Since(clock.Global{1: 2})
	if err != nil || len(ops) != 1 || ops[0].Insert.Text != "new" {
		t.Errorf("Since(floor) = %v, %v", ops, err)
	}
	if !l.Version().Equal(clock.Global{1: 3}) {
		t.Errorf("Version() = %v", l.Version())
	}
}
