package memory

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/trickstertwo/xmux"
)

const NativeName = "memory"

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("memory native is closed")

func init() {
	if err := xmux.RegisterNative(NativeName, func(cfg map[string]any) (xmux.Native, error) {
		return NewNative(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xmux/memory: failed to register native: %w", err))
	}
}

// Config controls the in-memory peer.
type Config struct {
	// Codec names the wire codec the peer decodes and encodes with (default: "json").
	Codec string
	// MaxPending caps undelivered frames; Send fails beyond it (default: 0 = unbounded).
	MaxPending int
	// ReplyDelay postpones every reply and its follow-up updates (default: 0 = immediate).
	ReplyDelay time.Duration
	// AnnounceSessions emits an authorization update for each created session (default: false).
	AnnounceSessions bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		switch v := cfg[k].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return d
	}
	getStr := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		Codec:            getStr("codec", "json"),
		MaxPending:       max(0, getInt("max_pending", 0)),
		ReplyDelay:       getDur("reply_delay", 0),
		AnnounceSessions: getBool("announce_sessions", false),
	}
}

// Responder answers one request. A nil reply means the request is never
// answered; updates are delivered after the reply as unsolicited events of the
// same session.
type Responder func(session xmux.SessionID, req *xmux.Message) (reply *xmux.Message, updates []*xmux.Message)

// Native is an in-process peer speaking the TDLib JSON conventions. Every
// request gets an "ok" reply unless a Responder is registered for its type; a
// "close" request is answered with "ok" followed by the closed authorization
// state, after which the session rejects further requests.
type Native struct {
	cfg   Config
	codec xmux.Codec

	mu         sync.Mutex
	outbox     *queue.Queue
	sessions   map[xmux.SessionID]bool
	responders map[string]Responder
	signal     chan struct{}
	closed     bool
	done       chan struct{}

	lastID  atomic.Int64
	metrics nativeMetrics
}

type nativeMetrics struct {
	sent      atomic.Uint64
	delivered atomic.Uint64
	executed  atomic.Uint64
	rejected  atomic.Uint64
}

var _ xmux.Native = (*Native)(nil)

// NewNative creates an in-memory peer.
func NewNative(cfg Config) (*Native, error) {
	if cfg.Codec == "" {
		cfg.Codec = "json"
	}
	codec, err := xmux.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Native{
		cfg:        cfg,
		codec:      codec,
		outbox:     queue.New(),
		sessions:   make(map[xmux.SessionID]bool),
		responders: make(map[string]Responder),
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Handle installs r for requests of type typ, replacing the built-in behaviour.
func (n *Native) Handle(typ string, r Responder) {
	n.mu.Lock()
	n.responders[typ] = r
	n.mu.Unlock()
}

// Create allocates the next client id.
func (n *Native) Create() (xmux.SessionID, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return 0, ErrClosed
	}
	id := n.lastID.Add(1)
	n.sessions[id] = true
	n.mu.Unlock()

	if n.cfg.AnnounceSessions {
		_ = n.Emit(id, authorizationState(id, "authorizationStateWaitTdlibParameters"))
	}
	return id, nil
}

// Send decodes a request and schedules the reply.
func (n *Native) Send(session xmux.SessionID, frame []byte) error {
	req, err := n.codec.Decode(frame)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	open := n.sessions[session]
	r := n.responders[req.Type]
	n.mu.Unlock()
	n.metrics.sent.Add(1)

	var (
		reply   *xmux.Message
		updates []*xmux.Message
	)
	switch {
	case !open:
		n.metrics.rejected.Add(1)
		reply = errorMessage(400, "Invalid client identifier")
	case r != nil:
		reply, updates = r(session, req)
	case req.Type == "close":
		reply = ok()
		updates = []*xmux.Message{authorizationState(session, "authorizationStateClosed")}
	default:
		reply = ok()
	}
	if req.Type == "close" && open {
		n.mu.Lock()
		delete(n.sessions, session)
		n.mu.Unlock()
	}

	frames := make([][]byte, 0, len(updates)+1)
	if reply != nil {
		reply.CorrelationID = req.CorrelationID
		reply.SessionID = session
		f, err := n.codec.Encode(reply)
		if err != nil {
			return err
		}
		frames = append(frames, f)
	}
	for _, u := range updates {
		u.CorrelationID = 0
		u.SessionID = session
		f, err := n.codec.Encode(u)
		if err != nil {
			return err
		}
		frames = append(frames, f)
	}
	if n.cfg.ReplyDelay > 0 {
		time.AfterFunc(n.cfg.ReplyDelay, func() { _ = n.push(frames...) })
		return nil
	}
	return n.push(frames...)
}

// Emit injects an unsolicited update for session.
func (n *Native) Emit(session xmux.SessionID, update *xmux.Message) error {
	u := *update
	u.CorrelationID = 0
	u.SessionID = session
	f, err := n.codec.Encode(&u)
	if err != nil {
		return err
	}
	return n.push(f)
}

// Inject queues a raw frame as if the peer had produced it.
func (n *Native) Inject(frame []byte) error {
	return n.push(frame)
}

func (n *Native) push(frames ...[]byte) error {
	if len(frames) == 0 {
		return nil
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.cfg.MaxPending > 0 && n.outbox.Length()+len(frames) > n.cfg.MaxPending {
		n.mu.Unlock()
		return fmt.Errorf("memory native: outbox full (%d pending)", n.cfg.MaxPending)
	}
	for _, f := range frames {
		n.outbox.Add(f)
	}
	n.mu.Unlock()

	select {
	case n.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until a frame is available or timeout elapses, in which case
// it returns a nil frame.
func (n *Native) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		n.mu.Lock()
		if n.outbox.Length() > 0 {
			f := n.outbox.Remove().([]byte)
			n.mu.Unlock()
			n.metrics.delivered.Add(1)
			return f, nil
		}
		closed := n.closed
		n.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-n.signal:
		case <-timer.C:
			return nil, nil
		case <-n.done:
		}
	}
}

// Execute answers a session-independent request synchronously.
func (n *Native) Execute(frame []byte) ([]byte, error) {
	req, err := n.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	closed := n.closed
	r := n.responders[req.Type]
	n.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	n.metrics.executed.Add(1)

	reply := ok()
	if r != nil {
		if reply, _ = r(0, req); reply == nil {
			return nil, nil
		}
	}
	reply.CorrelationID = req.CorrelationID
	return n.codec.Encode(reply)
}

// Close stops the peer. Pending frames are discarded.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.outbox = queue.New()
	close(n.done)
	return nil
}

// Sessions reports how many sessions are open on the peer side.
func (n *Native) Sessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// Stats is the peer's telemetry.
type Stats struct {
	Sent      uint64
	Delivered uint64
	Executed  uint64
	Rejected  uint64
	Pending   int
}

func (n *Native) Stats() Stats {
	n.mu.Lock()
	pending := n.outbox.Length()
	n.mu.Unlock()
	return Stats{
		Sent:      n.metrics.sent.Load(),
		Delivered: n.metrics.delivered.Load(),
		Executed:  n.metrics.executed.Load(),
		Rejected:  n.metrics.rejected.Load(),
		Pending:   pending,
	}
}

func ok() *xmux.Message { return xmux.MustMessage("ok", nil) }

func errorMessage(code int, msg string) *xmux.Message {
	return xmux.MustMessage("error", map[string]any{"code": code, "message": msg})
}

func authorizationState(session xmux.SessionID, state string) *xmux.Message {
	m := xmux.MustMessage("updateAuthorizationState", map[string]any{
		"authorization_state": map[string]any{"@type": state},
	})
	m.SessionID = session
	return m
}
