package xmux

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// SendFunc hands an encoded request carrying id to the native layer.
type SendFunc func(session SessionID, req *Message, id CorrelationID) error

// outcome is the single value a pending request is completed with.
type outcome struct {
	resp *Message
	err  error
}

// pendingRequest is a single-assignment future keyed by correlation id.
type pendingRequest struct {
	id      CorrelationID
	session SessionID
	result  chan outcome
}

// complete delivers o; the buffer of one makes it non-blocking and the table
// removal that precedes every call guarantees it runs at most once.
func (p *pendingRequest) complete(o outcome) {
	p.result <- o
}

// Correlator matches responses to outstanding requests by correlation id.
//
// Ids come from a counter starting at 1. The counter is not expected to wrap in
// practice; ids still outstanding are skipped if it ever does.
type Correlator struct {
	send     SendFunc
	protocol Protocol
	clock    xclock.Clock
	logger   *xlog.Logger
	metrics  *runtimeMetrics
	obs      *observerSet

	mu      sync.Mutex
	pending map[CorrelationID]*pendingRequest
	lastID  CorrelationID
}

// NewCorrelator builds a correlator sending through send.
func NewCorrelator(send SendFunc, protocol Protocol, clk xclock.Clock, logger *xlog.Logger) *Correlator {
	if clk == nil {
		clk = xclock.Default()
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &Correlator{
		send:     send,
		protocol: protocol.withDefaults(),
		clock:    clk,
		logger:   logger,
		metrics:  &runtimeMetrics{},
		pending:  make(map[CorrelationID]*pendingRequest),
	}
}

func (c *Correlator) register(session SessionID) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		c.lastID++
		if c.lastID == 0 {
			continue
		}
		if _, busy := c.pending[c.lastID]; !busy {
			break
		}
	}
	p := &pendingRequest{
		id:      c.lastID,
		session: session,
		result:  make(chan outcome, 1),
	}
	c.pending[p.id] = p
	return p
}

// take removes and returns the pending entry for id, if it is still p (or any when p is nil).
func (c *Correlator) take(id CorrelationID, p *pendingRequest) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.pending[id]
	if !ok || (p != nil && cur != p) {
		return nil
	}
	delete(c.pending, id)
	return cur
}

// Call sends req on behalf of session and waits for the matching response.
// It fails with *TimeoutError once timeout elapses, with *RemoteError when the
// response is error-kind, and with ctx.Err() when ctx ends first.
func (c *Correlator) Call(ctx context.Context, session SessionID, req *Message, timeout time.Duration) (*Message, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	c.metrics.calls.Add(1)
	start := c.clock.Now()
	p := c.register(session)

	if err := c.send(session, req, p.id); err != nil {
		c.take(p.id, p)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var o outcome
	select {
	case o = <-p.result:
	case <-timer.C:
		if c.take(p.id, p) == nil {
			// resolved concurrently with the timer; the result is already buffered
			o = <-p.result
			break
		}
		c.metrics.callTimeouts.Add(1)
		err := &TimeoutError{Op: "call " + req.Type, After: timeout}
		c.obs.notify(Event{Type: CallTimeout, SessionID: session, CorrelationID: p.id, MessageType: req.Type, Err: err})
		return nil, err
	case <-ctx.Done():
		if c.take(p.id, p) == nil {
			o = <-p.result
			break
		}
		return nil, ctx.Err()
	}

	d := c.clock.Since(start)
	c.metrics.recordCallLatency(d.Nanoseconds())
	c.obs.notify(Event{Type: CallDone, SessionID: session, CorrelationID: p.id, MessageType: req.Type, Duration: d, Err: o.err})
	return o.resp, o.err
}

// Resolve completes the waiter for msg.CorrelationID. A response with no
// waiter (unknown id, or already timed out) is logged and dropped.
func (c *Correlator) Resolve(msg *Message) bool {
	p := c.take(msg.CorrelationID, nil)
	if p == nil {
		c.metrics.responsesDropped.Add(1)
		c.obs.notify(Event{Type: ResponseDropped, SessionID: msg.SessionID, CorrelationID: msg.CorrelationID, MessageType: msg.Type, Err: ErrUnregisteredResponse})
		c.logger.Warn().
			Str("correlation_id", correlationStr(msg.CorrelationID)).
			Str("type", msg.Type).
			Err(ErrUnregisteredResponse).
			Msg("xmux: can't find waiter, response lost")
		return false
	}
	if rerr, ok := c.protocol.remoteError(msg); ok {
		c.metrics.remoteErrors.Add(1)
		p.complete(outcome{err: rerr})
		return true
	}
	p.complete(outcome{resp: msg})
	return true
}

// FailAll completes every outstanding request with err.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[CorrelationID]*pendingRequest)
	c.mu.Unlock()
	for _, p := range pending {
		p.complete(outcome{err: err})
	}
	return len(pending)
}

// Pending reports the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
