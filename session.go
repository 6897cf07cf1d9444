package xmux

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
	"golang.org/x/sync/errgroup"
)

// SessionState is the lifecycle position of a Session.
type SessionState int32

const (
	SessionStateCreated SessionState = iota
	SessionStateActive
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateCreated:
		return "created"
	case SessionStateActive:
		return "active"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one logical conversation multiplexed over the shared native.
type Session struct {
	id      SessionID
	state   atomic.Int32
	caller  Caller
	timeout time.Duration
}

func newSession(id SessionID, caller Caller, timeout time.Duration) *Session {
	return &Session{id: id, caller: caller, timeout: timeout}
}

// ID returns the native client id backing the session.
func (s *Session) ID() SessionID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Call sends req and waits for its response. A non-positive timeout uses the
// runtime default. Calls on a closed session fail immediately.
func (s *Session) Call(ctx context.Context, req *Message, timeout time.Duration) (*Message, error) {
	if s.State() == SessionStateClosed {
		return nil, lifecycle("session call", ErrSessionClosed)
	}
	if timeout <= 0 {
		timeout = s.timeout
	}
	return s.caller.Call(ctx, s.id, req, timeout)
}

// CreateFunc allocates a fresh native session id.
type CreateFunc func() (SessionID, error)

// SessionRegistry tracks open sessions and drives their orderly shutdown.
type SessionRegistry struct {
	create      CreateFunc
	caller      Caller
	protocol    Protocol
	callTimeout time.Duration
	logger      *xlog.Logger
	metrics     *runtimeMetrics
	obs         *observerSet

	mu           sync.Mutex
	sessions     map[SessionID]*Session
	shuttingDown bool
	shutdownOnce sync.Once
	closed       chan struct{} // signalled on every removal, buffer of one
}

// NewSessionRegistry builds a registry creating ids with create and issuing calls through caller.
func NewSessionRegistry(create CreateFunc, caller Caller, protocol Protocol, callTimeout time.Duration, logger *xlog.Logger) *SessionRegistry {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &SessionRegistry{
		create:      create,
		caller:      caller,
		protocol:    protocol.withDefaults(),
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     &runtimeMetrics{},
		sessions:    make(map[SessionID]*Session),
		closed:      make(chan struct{}, 1),
	}
}

// CreateSession registers a new active session backed by a fresh native id.
// The native is asked for the id without holding the registry lock, so a slow
// create never stalls lifecycle events. A shutdown that begins meanwhile wins
// and the fresh id is left unregistered.
func (r *SessionRegistry) CreateSession() (*Session, error) {
	if r.isShuttingDown() {
		return nil, lifecycle("create session", ErrShuttingDown)
	}
	id, err := r.create()
	if err != nil {
		return nil, err
	}
	s := newSession(id, r.caller, r.callTimeout)
	s.state.Store(int32(SessionStateActive))

	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil, lifecycle("create session", ErrShuttingDown)
	}
	r.sessions[id] = s
	r.mu.Unlock()
	r.metrics.sessionsCreated.Add(1)
	r.obs.notify(Event{Type: SessionCreated, SessionID: id})
	return s, nil
}

func (r *SessionRegistry) isShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}

// Get returns the registered session with id.
func (r *SessionRegistry) Get(id SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the registered sessions ordered by id.
func (r *SessionRegistry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ObserveLifecycleEvent inspects an unsolicited event for session id and, on
// the terminal closed event, removes and closes the session. It reports
// whether the session was closed by this event.
func (r *SessionRegistry) ObserveLifecycleEvent(id SessionID, msg *Message) bool {
	if !r.protocol.IsClosed(msg) {
		return false
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.state.Store(int32(SessionStateClosed))
	r.metrics.sessionsClosed.Add(1)
	r.obs.notify(Event{Type: SessionClosed, SessionID: id})

	select {
	case r.closed <- struct{}{}:
	default:
	}
	return true
}

// Shutdown closes every registered session and waits until all have reported
// closed, bounded by timeout. It runs at most once; later calls return nil.
// On timeout the sessions that did not close stay registered.
func (r *SessionRegistry) Shutdown(ctx context.Context, timeout time.Duration) error {
	var (
		err error
		ran bool
	)
	r.shutdownOnce.Do(func() {
		ran = true
		err = r.shutdown(ctx, timeout)
	})
	if !ran {
		return nil
	}
	return err
}

func (r *SessionRegistry) shutdown(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	r.mu.Lock()
	r.shuttingDown = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	closeErr := r.closeSessions(ctx)

	for {
		n := r.Len()
		if n == 0 {
			return nil
		}
		select {
		case <-r.closed:
		case <-ctx.Done():
			n = r.Len()
			if n == 0 {
				return nil
			}
			return errors.Join(&TimeoutError{Op: "registry shutdown", After: timeout, Pending: n}, closeErr)
		}
	}
}

// closeSessions sends the close request to every session concurrently and
// waits for all sends. Individual failures are logged and joined.
func (r *SessionRegistry) closeSessions(ctx context.Context) error {
	sessions := r.Sessions()
	r.logger.Debug().Str("sessions", strconv.Itoa(len(sessions))).Msg("xmux: shutting down sessions")

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		g.Go(func() error {
			_, err := s.Call(ctx, r.protocol.CloseRequest(), r.callTimeout)
			if err != nil {
				r.logger.Warn().Str("session_id", sessionStr(s.id)).Err(err).Msg("xmux: close request failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
