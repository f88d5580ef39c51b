// Package wire defines the messages exchanged between peers. Three kinds
// are sufficient for correctness: a hello carrying the sender's version
// vector, batches of operations, and ephemeral presence updates.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/telescrawl/telescrawl/pkg/op"
)

type Kind string

const (
	KindHello    Kind = "hello"
	KindOps      Kind = "ops"
	KindPresence Kind = "presence"
)

// Message is the envelope for every websocket frame. Exactly one body field
// is populated according to Kind.
type Message struct {
	Kind     Kind            `json:"kind"`
	Hello    *Hello          `json:"hello,omitempty"`
	Ops      *OpBatch        `json:"ops,omitempty"`
	Presence *PresenceUpdate `json:"presence,omitempty"`
}

// Hello opens a connection: it names the document, identifies the sender,
// and carries its version vector so the receiver can compute the delta. A
// brand-new joiner sends an empty vector and receives the whole history.
type Hello struct {
	DocID  string     `json:"doc_id"`
	Actor  op.ActorID `json:"actor"`
	Name   string     `json:"name,omitempty"`
	Vector op.Vector  `json:"vector"`
}

// OpBatch carries operations in per-actor sequence order. Receivers apply
// them through the log, so duplicates and causal gaps are harmless.
type OpBatch struct {
	Ops []*op.Operation `json:"ops"`
}

// PresenceUpdate is best-effort and unordered; the latest one wins and
// nothing is persisted. Leave signals a graceful departure so peers can
// drop the cursor without waiting for expiry.
type PresenceUpdate struct {
	Actor  op.ActorID `json:"actor"`
	Name   string     `json:"name,omitempty"`
	Cursor op.Point   `json:"cursor"`
	Tool   string     `json:"tool,omitempty"`
	SentAt int64      `json:"sent_at"`
	Leave  bool       `json:"leave,omitempty"`
}

// Encode serializes a message for the wire.
func Encode(m *Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Kind, err)
	}
	return raw, nil
}

// Decode parses a frame, rejecting envelopes whose body does not match
// their kind.
func Decode(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	switch m.Kind {
	case KindHello:
		if m.Hello == nil {
			return nil, fmt.Errorf("hello message without body")
		}
	case KindOps:
		if m.Ops == nil {
			return nil, fmt.Errorf("ops message without body")
		}
	case KindPresence:
		if m.Presence == nil {
			return nil, fmt.Errorf("presence message without body")
		}
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return &m, nil
}
