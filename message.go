package xmux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CorrelationID links a request to its response. Zero means "not a response".
type CorrelationID = uint64

// SessionID is the native client id a message belongs to. Zero means "no session".
type SessionID = int64

// Message is the envelope traveling between the runtime and the native interface.
type Message struct {
	// Type is the discriminant tag used for routing (exact match).
	Type string
	// CorrelationID is set on responses to requests issued through Call.
	CorrelationID CorrelationID
	// SessionID is set on unsolicited events tied to a session.
	SessionID SessionID
	// Payload holds the body fields as a JSON object, reserved envelope fields excluded.
	Payload json.RawMessage
	// ReceivedAt is stamped by the listener from the injected clock.
	ReceivedAt time.Time
}

// NewMessage builds a message of the given type from any JSON-marshalable body.
// A nil body produces an empty object.
func NewMessage(typ string, body any) (*Message, error) {
	if typ == "" {
		return nil, fmt.Errorf("%w: empty type", ErrInvalidMessage)
	}
	if body == nil {
		return &Message{Type: typ, Payload: json.RawMessage("{}")}, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: body of %q must encode to a JSON object", ErrInvalidMessage, typ)
	}
	return &Message{Type: typ, Payload: data}, nil
}

// MustMessage is NewMessage for static bodies; it panics on error.
func MustMessage(typ string, body any) *Message {
	m, err := NewMessage(typ, body)
	if err != nil {
		panic(err)
	}
	return m
}

// withCorrelation returns a shallow copy carrying id, leaving the caller's message untouched.
func (m *Message) withCorrelation(id CorrelationID) *Message {
	c := *m
	c.CorrelationID = id
	return &c
}

// IsResponse reports whether the message answers a Call.
func (m *Message) IsResponse() bool { return m.CorrelationID != 0 }

func (m *Message) String() string {
	return fmt.Sprintf("%s(extra=%d, session=%d)", m.Type, m.CorrelationID, m.SessionID)
}

func sessionStr(id SessionID) string { return strconv.FormatInt(id, 10) }

func correlationStr(id CorrelationID) string { return strconv.FormatUint(id, 10) }
