package operation

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/tandem/internal/engine/clock"
)

type wireOperation struct {
	ReplicaID clock.ReplicaID `json:"replica_id"`
	Counter   uint32          `json:"counter"`
	Lamport   uint32          `json:"lamport"`
	Version   clock.Global    `json:"version"`
	Kind      Kind            `json:"kind"`
	Insert    *wireInsert     `json:"insert,omitempty"`
	Delete    *wireDelete     `json:"delete,omitempty"`
}

type wireInsert struct {
	AnchorFragmentID clock.Local `json:"anchor_fragment_id"`
	AnchorOffset     int         `json:"anchor_offset"`
	Bias             string      `json:"bias"`
	Text             string      `json:"text"`
}

type wireRange struct {
	FragmentID clock.Local `json:"fragment_id"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
}

type wireDelete struct {
	Ranges []wireRange `json:"ranges"`
}

// MarshalJSON encodes the operation in its wire form.
func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		ReplicaID: op.ID.Replica,
		Counter:   op.ID.Value,
		Lamport:   op.Lamport.Value,
		Version:   op.Version,
		Kind:      op.Kind,
	}
	if w.Version == nil {
		w.Version = clock.Global{}
	}
	if op.Insert != nil {
		w.Insert = &wireInsert{
			AnchorFragmentID: op.Insert.Anchor,
			AnchorOffset:     op.Insert.AnchorOffset,
			Bias:             op.Insert.Bias.String(),
			Text:             op.Insert.Text,
		}
	}
	if op.Delete != nil {
		w.Delete = &wireDelete{Ranges: make([]wireRange, len(op.Delete.Ranges))}
		for i, r := range op.Delete.Ranges {
			w.Delete.Ranges[i] = wireRange{FragmentID: r.Insertion, Start: r.Start, End: r.End}
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. The result is not validated.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Operation{
		ID:      clock.Local{Replica: w.ReplicaID, Value: w.Counter},
		Lamport: clock.Lamport{Replica: w.ReplicaID, Value: w.Lamport},
		Version: w.Version,
		Kind:    w.Kind,
	}
	if out.Version == nil {
		out.Version = clock.Global{}
	}
	if w.Insert != nil {
		bias, err := parseBias(w.Insert.Bias)
		if err != nil {
			return err
		}
		out.Insert = &Insert{
			Anchor:       w.Insert.AnchorFragmentID,
			AnchorOffset: w.Insert.AnchorOffset,
			Bias:         bias,
			Text:         w.Insert.Text,
		}
	}
	if w.Delete != nil {
		out.Delete = &Delete{Ranges: make([]Range, len(w.Delete.Ranges))}
		for i, r := range w.Delete.Ranges {
			out.Delete.Ranges[i] = Range{Insertion: r.FragmentID, Start: r.Start, End: r.End}
		}
	}

	*op = out
	return nil
}

func parseBias(s string) (Bias, error) {
	switch s {
	case "left":
		return BiasLeft, nil
	case "right", "":
		return BiasRight, nil
	default:
		return 0, fmt.Errorf("%w: unknown bias %q", ErrInvalid, s)
	}
}

// Marshal encodes one operation.
func Marshal(op Operation) ([]byte, error) {
	return json.Marshal(op)
}

// Unmarshal decodes one operation.
func Unmarshal(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	return op, nil
}

// MarshalBatch encodes operations as a JSON array.
func MarshalBatch(ops []Operation) ([]byte, error) {
	if ops == nil {
		ops = []Operation{}
	}
	return json.Marshal(ops)
}

// UnmarshalBatch decodes a JSON array of operations.
func UnmarshalBatch(data []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode operation batch: %w", err)
	}
	return ops, nil
}
