package transport

import (
	"encoding/json"
	"errors"

	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/operation"
)

// MessageType discriminates websocket messages.
type MessageType string

// Message types.
const (
	// TypeWelcome is the first message a peer receives.
	TypeWelcome MessageType = "welcome"
	// TypeOps carries a batch of operations, in either direction.
	TypeOps MessageType = "ops"
	// TypeError reports a rejected request.
	TypeError MessageType = "error"
)

// ErrUnexpectedMessage is returned when a peer breaks the message protocol.
var ErrUnexpectedMessage = errors.New("unexpected message")

// Message is one websocket frame.
type Message struct {
	Type MessageType `json:"type"`

	// Replica and Snapshot are set on welcome messages.
	Replica  clock.ReplicaID `json:"replica,omitempty"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`

	// Ops carries operations; on welcome, the server's pending operations.
	Ops []operation.Operation `json:"ops,omitempty"`

	Error string `json:"error,omitempty"`
}

func opsMessage(ops []operation.Operation) Message {
	return Message{Type: TypeOps, Ops: ops}
}

func errorMessage(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}
