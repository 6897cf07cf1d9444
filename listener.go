package xmux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// ReceiveFunc is the blocking receive primitive the listener drives.
// It returns nil when timeout elapses without a message.
type ReceiveFunc func(timeout time.Duration) (*Message, error)

// Listener owns the only goroutine that blocks on the native receive call and
// hands each message to the event loop through a bounded channel.
//
// A full channel blocks the receive goroutine, so the consumer must keep draining.
type Listener struct {
	receive ReceiveFunc
	timeout time.Duration
	queue   chan *Message
	logger  *xlog.Logger
	metrics *runtimeMetrics
	obs     *observerSet

	startOnce sync.Once
	stopOnce  sync.Once
	shutdown  atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// NewListener builds a listener calling receive with the given timeout and a
// handoff queue of queueSize messages.
func NewListener(receive ReceiveFunc, timeout time.Duration, queueSize int, logger *xlog.Logger) *Listener {
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &Listener{
		receive: receive,
		timeout: timeout,
		queue:   make(chan *Message, queueSize),
		logger:  logger,
		metrics: &runtimeMetrics{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the receive goroutine. Calling it again is a no-op.
func (l *Listener) Start() {
	l.startOnce.Do(func() {
		go l.loop()
	})
}

func (l *Listener) loop() {
	defer close(l.done)
	for !l.shutdown.Load() {
		msg, err := l.receiveOne()
		if l.shutdown.Load() {
			return
		}
		if err != nil {
			l.metrics.listenerErrors.Add(1)
			l.obs.notify(Event{Type: ListenerFailed, Err: err})
			l.logger.Error().Err(err).Msg("xmux: receive failed")
			continue
		}
		if msg == nil {
			continue
		}
		l.metrics.received.Add(1)
		select {
		case l.queue <- msg:
		case <-l.stop:
			return
		}
	}
}

// receiveOne isolates a single receive so a panic in decoding never ends the loop.
func (l *Listener) receiveOne() (msg *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return l.receive(l.timeout)
}

// WaitForEvent returns the next message in arrival order, blocking until one is
// available or ctx is done. The receive goroutine is started on first use.
func (l *Listener) WaitForEvent(ctx context.Context) (*Message, error) {
	l.Start()
	select {
	case msg := <-l.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown asks the receive goroutine to exit after its current receive returns.
func (l *Listener) Shutdown() {
	l.stopOnce.Do(func() {
		l.shutdown.Store(true)
		close(l.stop)
	})
}

// Done is closed once the receive goroutine has exited.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Pending reports how many messages wait in the handoff queue.
func (l *Listener) Pending() int { return len(l.queue) }
