package operation

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/tandem/internal/engine/clock"
)

func validInsert() Operation {
	return NewInsert(
		clock.Local{Replica: 2, Value: 3},
		clock.Lamport{Replica: 2, Value: 9},
		clock.Global{1: 4, 2: 2},
		clock.Local{Replica: 1, Value: 1},
		2,
		"héllo",
	)
}

func validDelete() Operation {
	return NewDelete(
		clock.Local{Replica: 1, Value: 5},
		clock.Lamport{Replica: 1, Value: 10},
		clock.Global{1: 4},
		[]Range{{Insertion: clock.Local{Replica: 2, Value: 3}, Start: 0, End: 2}},
	)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Operation)
		ok     bool
	}{
		{"valid insert", func(*Operation) {}, true},
		{"reserved replica", func(op *Operation) { op.ID.Replica = 0; op.Lamport.Replica = 0 }, false},
		{"zero counter", func(op *Operation) { op.ID.Value = 0 }, false},
		{"lamport from other replica", func(op *Operation) { op.Lamport.Replica = 7 }, false},
		{"zero lamport", func(op *Operation) { op.Lamport.Value = 0 }, false},
		{"version covers itself", func(op *Operation) { op.Version = clock.Global{2: 3} }, false},
		{"gap in own counter", func(op *Operation) { op.Version = clock.Global{2: 1} }, false},
		{"empty text", func(op *Operation) { op.Insert.Text = "" }, false},
		{"invalid utf8", func(op *Operation) { op.Insert.Text = "\xff" }, false},
		{"left bias", func(op *Operation) { op.Insert.Bias = BiasLeft }, false},
		{"negative offset", func(op *Operation) { op.Insert.AnchorOffset = -1 }, false},
		{"end anchor with offset", func(op *Operation) { op.Insert.Anchor = clock.End }, false},
		{"end anchor", func(op *Operation) { op.Insert.Anchor = clock.End; op.Insert.AnchorOffset = 0 }, true},
		{"both payloads", func(op *Operation) { op.Delete = &Delete{} }, false},
		{"missing payload", func(op *Operation) { op.Insert = nil }, false},
		{"unknown kind", func(op *Operation) { op.Kind = "move" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := validInsert()
			tt.mutate(&op)
			err := op.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateDelete(t *testing.T) {
	if err := validDelete().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	bad := []Range{
		{Insertion: clock.Local{Replica: 2, Value: 3}, Start: 2, End: 2},
		{Insertion: clock.Local{Replica: 2, Value: 3}, Start: 3, End: 1},
		{Insertion: clock.Local{Replica: 2, Value: 3}, Start: -1, End: 1},
		{Insertion: clock.End, Start: 0, End: 1},
	}
	for _, r := range bad {
		op := validDelete()
		op.Delete.Ranges = []Range{r}
		if err := op.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("range %+v: Validate() = %v", r, err)
		}
	}

	op := validDelete()
	op.Delete.Ranges = nil
	if err := op.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty ranges: Validate() = %v", err)
	}

	a := clock.Local{Replica: 2, Value: 3}
	b := clock.Local{Replica: 4, Value: 1}
	tests := []struct {
		name   string
		ranges []Range
		ok     bool
	}{
		{"adjacent", []Range{{a, 0, 2}, {a, 2, 4}}, true},
		{"same offsets in different insertions", []Range{{a, 0, 2}, {b, 0, 2}}, true},
		{"unsorted disjoint", []Range{{a, 5, 6}, {b, 0, 1}, {a, 0, 2}}, true},
		{"duplicate", []Range{{a, 0, 2}, {a, 0, 2}}, false},
		{"overlap", []Range{{a, 0, 3}, {a, 2, 4}}, false},
		{"contained out of order", []Range{{a, 4, 5}, {b, 0, 1}, {a, 0, 8}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := validDelete()
			op.Delete.Ranges = tt.ranges
			err := op.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestWireFormat(t *testing.T) {
	data, err := Marshal(validInsert())
	if err != nil {
		t.Fatal(err)
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"replica_id", "counter", "lamport", "version", "kind", "insert"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("wire form missing %q: %s", key, data)
		}
	}
	if _, ok := generic["delete"]; ok {
		t.Errorf("insert should omit delete payload: %s", data)
	}
	ins := generic["insert"].(map[string]any)
	if ins["bias"] != "right" || ins["text"] != "héllo" {
		t.Errorf("insert payload = %v", ins)
	}
	anchor := ins["anchor_fragment_id"].(map[string]any)
	if anchor["replica"] != float64(1) || anchor["counter"] != float64(1) {
		t.Errorf("anchor = %v", anchor)
	}
}

func TestDecodeKnownWireForm(t *testing.T) {
	raw := `{"replica_id":3,"counter":2,"lamport":7,"version":{"1":5,"3":1},"kind":"delete",
		"delete":{"ranges":[{"fragment_id":{"replica":1,"counter":4},"start":1,"end":3}]}}`
	op, err := Unmarshal([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	want := NewDelete(
		clock.Local{Replica: 3, Value: 2},
		clock.Lamport{Replica: 3, Value: 7},
		clock.Global{1: 5, 3: 1},
		[]Range{{Insertion: clock.Local{Replica: 1, Value: 4}, Start: 1, End: 3}},
	)
	if !reflect.DeepEqual(op, want) {
		t.Errorf("decoded %+v, want %+v", op, want)
	}
	if err := op.Validate(); err != nil {
		t.Errorf("decoded op invalid: %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"kind":`)); err == nil {
		t.Error("truncated JSON should fail")
	}
	raw := `{"replica_id":1,"counter":1,"lamport":1,"kind":"insert","insert":{"bias":"sideways","text":"x"}}`
	if _, err := Unmarshal([]byte(raw)); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown bias error = %v", err)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	ops := []Operation{validInsert(), validDelete()}
	data, err := MarshalBatch(ops)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalBatch(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, ops) {
		t.Errorf("batch round trip mismatch:\n got %+v\nwant %+v", back, ops)
	}

	empty, err := MarshalBatch(nil)
	if err != nil || string(empty) != "[]" {
		t.Errorf("MarshalBatch(nil) = %s, %v", empty, err)
	}
}

func TestString(t *testing.T) {
	if s := validInsert().String(); !strings.Contains(s, "insert 2.3") {
		t.Errorf("String() = %q", s)
	}
	if s := validDelete().String(); !strings.Contains(s, "1 ranges") {
		t.Errorf("String() = %q", s)
	}
}
