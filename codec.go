package xmux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Reserved envelope fields shared by every codec.
const (
	FieldType          = "@type"
	FieldCorrelationID = "@extra"
	FieldSessionID     = "@client_id"
)

func isReserved(k string) bool {
	return k == FieldType || k == FieldCorrelationID || k == FieldSessionID
}

// JSONCodec is the default wire codec: a flat JSON object whose reserved fields
// carry the envelope and whose remaining fields form the payload.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	if m == nil || m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	fields := map[string]json.RawMessage{}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &fields); err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Type, err)
		}
	}
	for k := range fields {
		if isReserved(k) {
			delete(fields, k)
		}
	}
	typ, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	fields[FieldType] = typ
	if m.CorrelationID != 0 {
		fields[FieldCorrelationID] = strconv.AppendUint(nil, m.CorrelationID, 10)
	}
	if m.SessionID != 0 {
		fields[FieldSessionID] = strconv.AppendInt(nil, m.SessionID, 10)
	}
	return json.Marshal(fields)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	m := &Message{}
	raw, ok := fields[FieldType]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidMessage, FieldType)
	}
	if err := json.Unmarshal(raw, &m.Type); err != nil || m.Type == "" {
		return nil, fmt.Errorf("%w: bad %s", ErrInvalidMessage, FieldType)
	}
	if raw, ok := fields[FieldCorrelationID]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.CorrelationID); err != nil {
			return nil, fmt.Errorf("%w: non-numeric %s %s", ErrInvalidMessage, FieldCorrelationID, raw)
		}
	}
	if raw, ok := fields[FieldSessionID]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.SessionID); err != nil {
			return nil, fmt.Errorf("%w: bad %s %s", ErrInvalidMessage, FieldSessionID, raw)
		}
	}
	delete(fields, FieldType)
	delete(fields, FieldCorrelationID)
	delete(fields, FieldSessionID)
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	return m, nil
}

func isNull(raw json.RawMessage) bool { return bytes.Equal(bytes.TrimSpace(raw), []byte("null")) }

var (
	cborEnc, _ = cbor.CoreDetEncOptions().EncMode()
	cborDec, _ = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
)

// CBORCodec frames the same envelope as a deterministic CBOR map, for natives
// that carry binary frames.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Encode(m *Message) ([]byte, error) {
	if m == nil || m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	fields := map[string]any{}
	if len(m.Payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(m.Payload))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Type, err)
		}
	}
	for k, v := range fields {
		if isReserved(k) {
			delete(fields, k)
			continue
		}
		fields[k] = fromJSONNumber(v)
	}
	fields[FieldType] = m.Type
	if m.CorrelationID != 0 {
		fields[FieldCorrelationID] = m.CorrelationID
	}
	if m.SessionID != 0 {
		fields[FieldSessionID] = m.SessionID
	}
	return cborEnc.Marshal(fields)
}

func (CBORCodec) Decode(data []byte) (*Message, error) {
	var fields map[string]any
	if err := cborDec.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	m := &Message{}
	typ, ok := fields[FieldType].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidMessage, FieldType)
	}
	m.Type = typ
	if v, ok := fields[FieldCorrelationID]; ok && v != nil {
		id, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric %s %v", ErrInvalidMessage, FieldCorrelationID, v)
		}
		m.CorrelationID = id
	}
	if v, ok := fields[FieldSessionID]; ok && v != nil {
		id, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: bad %s %v", ErrInvalidMessage, FieldSessionID, v)
		}
		m.SessionID = id
	}
	delete(fields, FieldType)
	delete(fields, FieldCorrelationID)
	delete(fields, FieldSessionID)
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	return m, nil
}

// fromJSONNumber turns json.Number leaves into int64/float64 so CBOR encodes numbers, not strings.
func fromJSONNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumber(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = fromJSONNumber(e)
		}
		return t
	default:
		return v
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
