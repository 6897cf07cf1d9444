package xmux

import (
	"fmt"
	"io"
	"time"

	"github.com/trickstertwo/xclock"
)

// Binding adapts a byte-level Native to typed messages through a Codec.
type Binding struct {
	native Native
	codec  Codec
	clock  xclock.Clock
}

// NewBinding pairs a native with a codec. A nil codec selects JSONCodec.
func NewBinding(n Native, c Codec, clk xclock.Clock) *Binding {
	if c == nil {
		c = JSONCodec{}
	}
	if clk == nil {
		clk = xclock.Default()
	}
	return &Binding{native: n, codec: c, clock: clk}
}

// Codec returns the configured codec (Strategy).
func (b *Binding) Codec() Codec { return b.codec }

// Create asks the native for a fresh session id.
func (b *Binding) Create() (SessionID, error) { return b.native.Create() }

// Send encodes msg with the given correlation id and hands it to the native.
func (b *Binding) Send(session SessionID, msg *Message, id CorrelationID) error {
	frame, err := b.codec.Encode(msg.withCorrelation(id))
	if err != nil {
		return err
	}
	return b.native.Send(session, frame)
}

// Receive blocks up to timeout and returns the next decoded message, or nil.
func (b *Binding) Receive(timeout time.Duration) (*Message, error) {
	frame, err := b.native.Receive(timeout)
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, nil
	}
	m, err := b.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	m.ReceivedAt = b.clock.Now()
	return m, nil
}

// Execute runs a synchronous, session-independent request.
func (b *Binding) Execute(req *Message) (*Message, error) {
	frame, err := b.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	out, err := b.native.Execute(frame)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty execute result for %s", ErrInvalidMessage, req.Type)
	}
	m, err := b.codec.Decode(out)
	if err != nil {
		return nil, err
	}
	m.ReceivedAt = b.clock.Now()
	return m, nil
}

// Close releases the native if it holds resources.
func (b *Binding) Close() error {
	if c, ok := b.native.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
