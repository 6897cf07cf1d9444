package xmux

import (
	"context"
	"errors"
	"sync"

	"github.com/trickstertwo/xlog"
)

// EventLoop takes messages off the listener in arrival order and routes them:
// responses to the correlator, everything else to the attached dispatcher.
type EventLoop struct {
	listener   *Listener
	correlator *Correlator
	logger     *xlog.Logger
	prepare    func(ctx context.Context) context.Context

	mu         sync.Mutex
	dispatcher *Dispatcher
	lane       *lane
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once
}

func NewEventLoop(listener *Listener, correlator *Correlator, logger *xlog.Logger) *EventLoop {
	if logger == nil {
		logger = xlog.Default()
	}
	return &EventLoop{
		listener:   listener,
		correlator: correlator,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// AttachDispatcher installs dp as the destination of unsolicited messages.
// Only one dispatcher may ever be attached.
func (l *EventLoop) AttachDispatcher(dp *Dispatcher) error {
	if dp == nil {
		return errors.New("xmux: nil dispatcher")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dispatcher != nil {
		return lifecycle("attach dispatcher", ErrDispatcherAttached)
	}
	l.dispatcher = dp
	l.lane = newLane(dp.Feed, l.logger)
	if l.started {
		l.lane.start(l.laneCtx())
	}
	return nil
}

// Dispatcher returns the attached dispatcher, or nil.
func (l *EventLoop) Dispatcher() *Dispatcher {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dispatcher
}

func (l *EventLoop) laneCtx() context.Context {
	ctx := context.Background()
	if l.prepare != nil {
		ctx = l.prepare(ctx)
	}
	return ctx
}

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (l *EventLoop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	if l.lane != nil {
		l.lane.start(l.laneCtx())
	}
	go l.run(ctx)
}

func (l *EventLoop) run(ctx context.Context) {
	defer close(l.done)
	for {
		msg, err := l.listener.WaitForEvent(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Error().Err(err).Msg("xmux: event loop stopped unexpectedly")
			}
			return
		}
		l.route(msg)
	}
}

func (l *EventLoop) route(msg *Message) {
	if msg.IsResponse() {
		l.correlator.Resolve(msg)
		return
	}
	l.mu.Lock()
	ln := l.lane
	l.mu.Unlock()
	if ln == nil {
		return
	}
	if !ln.push(msg, msg.SessionID) {
		l.logger.Debug().Str("type", msg.Type).Msg("xmux: update after dispatch stopped")
	}
}

// Join blocks until the loop goroutine exits or ctx ends.
func (l *EventLoop) Join(ctx context.Context) error {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return lifecycle("join", ErrNotStarted)
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the listener, the loop and the dispatch lane. Cancellation of
// the loop itself is expected and not reported. Calling it again only waits.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	started, cancel, ln := l.started, l.cancel, l.lane
	l.mu.Unlock()

	l.stopOnce.Do(func() {
		l.listener.Shutdown()
		if cancel != nil {
			cancel()
		}
	})
	if !started {
		return nil
	}
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ln != nil {
		return ln.shutdown(ctx)
	}
	return nil
}
