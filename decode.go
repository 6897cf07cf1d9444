package xmux

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals msg.Payload into a typed value.
func Decode[T any](msg *Message) (T, error) {
	var v T
	if msg == nil {
		return v, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if len(msg.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return v, nil
}

// Field extracts a single top-level body field.
func Field[T any](msg *Message, name string) (T, bool) {
	var v T
	if msg == nil || len(msg.Payload) == 0 {
		return v, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		return v, false
	}
	raw, ok := fields[name]
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}
