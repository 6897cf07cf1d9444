package xmux

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ HealthChecker = (*Runtime)(nil)

// RuntimeState is the lifecycle position of a Runtime.
type RuntimeState int32

const (
	StateCreated RuntimeState = iota
	StateRunning
	StateShuttingDown
	StateShutdown
)

func (s RuntimeState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Runtime multiplexes many sessions over one Native: a single listener
// goroutine receives, the event loop routes responses to waiting callers and
// updates to the attached Dispatcher.
type Runtime struct {
	binding         *Binding
	protocol        Protocol
	clock           xclock.Clock
	logger          *xlog.Logger
	shutdownTimeout time.Duration

	metrics *runtimeMetrics
	obs     *observerSet
	pool    *ObserverPool

	listener   *Listener
	correlator *Correlator
	registry   *SessionRegistry
	loop       *EventLoop

	mu    sync.Mutex
	state RuntimeState
}

// Codec returns the wire codec in use.
func (r *Runtime) Codec() Codec { return r.binding.Codec() }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *xlog.Logger { return r.logger }

// Registry exposes the session registry.
func (r *Runtime) Registry() *SessionRegistry { return r.registry }

// State returns the current lifecycle state.
func (r *Runtime) State() RuntimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the listener and event loop. It is a no-op when already
// running and fails once shutdown has begun. Without an attached dispatcher an
// empty one is installed so session lifecycle events are still observed.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRunning:
		return nil
	case StateShuttingDown, StateShutdown:
		return lifecycle("start", ErrRuntimeClosed)
	}
	if r.loop.Dispatcher() == nil {
		if err := r.attachLocked(NewDispatcher()); err != nil {
			return err
		}
	}
	r.listener.Start()
	r.loop.Start(context.WithoutCancel(ctx))
	r.state = StateRunning
	r.logger.Info().Str("codec", r.binding.Codec().Name()).Msg("xmux: runtime started")
	return nil
}

// CreateSession opens a new session, starting the runtime first if needed.
func (r *Runtime) CreateSession() (*Session, error) {
	if r.State() == StateCreated {
		if err := r.Start(context.Background()); err != nil {
			return nil, err
		}
	}
	s, err := r.registry.CreateSession()
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("session_id", sessionStr(s.ID())).Msg("xmux: session created")
	return s, nil
}

// Execute performs a synchronous request that is not bound to any session.
func (r *Runtime) Execute(req *Message) (*Message, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	resp, err := r.binding.Execute(req)
	if err != nil {
		return nil, err
	}
	if rerr, ok := r.protocol.remoteError(resp); ok {
		r.metrics.remoteErrors.Add(1)
		return nil, rerr
	}
	return resp, nil
}

// AttachDispatcher installs dp as the receiver of unsolicited updates. It can
// be called once, before or after Start.
func (r *Runtime) AttachDispatcher(dp *Dispatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateShuttingDown || r.state == StateShutdown {
		return lifecycle("attach dispatcher", ErrRuntimeClosed)
	}
	return r.attachLocked(dp)
}

func (r *Runtime) attachLocked(dp *Dispatcher) error {
	if dp == nil {
		return errors.New("xmux: nil dispatcher")
	}
	if r.loop.Dispatcher() != nil {
		return lifecycle("attach dispatcher", ErrDispatcherAttached)
	}
	dp.logger = r.logger
	dp.metrics = r.metrics
	dp.obs = r.obs
	dp.prepend(SessionMiddleware(r.registry))
	return r.loop.AttachDispatcher(dp)
}

// Join blocks until the event loop exits or ctx ends.
func (r *Runtime) Join(ctx context.Context) error {
	return r.loop.Join(ctx)
}

// Shutdown closes every session, stops the loop and releases the native.
// Outstanding calls fail with ErrShuttingDown. A runtime that was never started
// only releases its native. Calls after the first return nil.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateCreated:
		r.state = StateShutdown
		r.mu.Unlock()
		return r.release(ctx)
	case StateShuttingDown, StateShutdown:
		r.mu.Unlock()
		return nil
	}
	r.state = StateShuttingDown
	r.mu.Unlock()

	start := r.clock.Now()
	r.obs.notify(Event{Type: ShutdownStart})
	r.logger.Info().Str("sessions", strconv.Itoa(r.registry.Len())).Msg("xmux: shutting down")

	var errs []error
	if err := r.registry.Shutdown(ctx, r.shutdownTimeout); err != nil {
		r.logger.Warn().Err(err).Msg("xmux: sessions did not close cleanly")
		errs = append(errs, err)
	}

	lctx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
	defer cancel()
	if err := r.loop.Shutdown(lctx); err != nil {
		r.logger.Warn().Err(err).Msg("xmux: event loop did not stop in time")
		errs = append(errs, err)
	}

	if n := r.correlator.FailAll(lifecycle("call", ErrShuttingDown)); n > 0 {
		r.logger.Warn().Str("pending", strconv.Itoa(n)).Msg("xmux: failed outstanding calls")
	}

	r.obs.notify(Event{Type: ShutdownDone, Duration: r.clock.Since(start)})
	r.obs.close()
	if r.pool != nil {
		if err := r.pool.Close(lctx); err != nil {
			r.logger.Warn().Err(err).Msg("xmux: observer pool shutdown timeout")
			errs = append(errs, err)
		}
	}

	if err := r.binding.Close(); err != nil {
		r.logger.Error().Err(err).Msg("xmux: native close failed")
		errs = append(errs, err)
	}

	r.mu.Lock()
	r.state = StateShutdown
	r.mu.Unlock()
	r.logger.Info().Dur("took", r.clock.Since(start)).Msg("xmux: runtime stopped")
	return errors.Join(errs...)
}

// release tears down a runtime whose listener and loop never ran.
func (r *Runtime) release(ctx context.Context) error {
	var errs []error
	// nothing is open yet; this only makes the registry refuse new sessions
	if err := r.registry.Shutdown(ctx, r.shutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	r.obs.close()
	if r.pool != nil {
		pctx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
		defer cancel()
		if err := r.pool.Close(pctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.binding.Close(); err != nil {
		r.logger.Error().Err(err).Msg("xmux: native close failed")
		errs = append(errs, err)
	}
	r.logger.Debug().Msg("xmux: released runtime that never started")
	return errors.Join(errs...)
}

// GetMetrics returns a snapshot of the runtime counters.
func (r *Runtime) GetMetrics() Metrics {
	m := Metrics{
		Received:         r.metrics.received.Load(),
		Calls:            r.metrics.calls.Load(),
		CallTimeouts:     r.metrics.callTimeouts.Load(),
		RemoteErrors:     r.metrics.remoteErrors.Load(),
		ResponsesDropped: r.metrics.responsesDropped.Load(),
		Dispatched:       r.metrics.dispatched.Load(),
		HandlerErrors:    r.metrics.handlerErrors.Load(),
		ListenerErrors:   r.metrics.listenerErrors.Load(),
		SessionsCreated:  r.metrics.sessionsCreated.Load(),
		SessionsClosed:   r.metrics.sessionsClosed.Load(),
		OpenSessions:     r.registry.Len(),
		PendingCalls:     r.correlator.Pending(),
		AvgCallLatencyMs: float64(r.metrics.callLatencyNs.Load()) / 1e6,
	}
	if r.pool != nil {
		m.EventsDropped = r.pool.Stats().Dropped
	}
	return m
}

// Health reports runtime health for probes. A running runtime turns degraded
// when more than 5% of calls time out.
func (r *Runtime) Health(ctx context.Context) HealthStatus {
	metrics := r.GetMetrics()
	now := r.clock.Now()
	switch st := r.State(); st {
	case StateRunning:
	case StateCreated:
		return HealthStatus{Status: "degraded", Metrics: metrics, Timestamp: now, Message: "runtime not started"}
	default:
		return HealthStatus{Status: "unhealthy", Metrics: metrics, Timestamp: now, Message: "runtime is " + st.String()}
	}

	status := "healthy"
	if metrics.Calls > 0 && float64(metrics.CallTimeouts)/float64(metrics.Calls) > 0.05 {
		status = "degraded"
	}
	return HealthStatus{Status: status, Metrics: metrics, Timestamp: now}
}

// AddObserver registers an observer for runtime events.
func (r *Runtime) AddObserver(obs Observer) { r.obs.add(obs) }

// RemoveObserver unregisters an observer.
func (r *Runtime) RemoveObserver(obs Observer) { r.obs.remove(obs) }
