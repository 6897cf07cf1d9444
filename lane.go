package xmux

import (
	"context"
	"strconv"
	"sync"

	"github.com/eapache/queue"
	"github.com/trickstertwo/xlog"
)

type laneItem struct {
	msg     *Message
	session SessionID
}

// lane runs dispatches one at a time, in the order they were pushed, on a
// single worker goroutine. The event loop never waits for a handler, so a
// handler may block on Session.Call while responses keep flowing.
type lane struct {
	feed   func(ctx context.Context, msg *Message, session SessionID)
	logger *xlog.Logger

	mu      sync.Mutex
	items   *queue.Queue
	stopped bool
	signal  chan struct{}

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newLane(feed func(context.Context, *Message, SessionID), logger *xlog.Logger) *lane {
	return &lane{
		feed:   feed,
		logger: logger,
		items:  queue.New(),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *lane) start(ctx context.Context) {
	go l.run(ctx)
}

// push enqueues without blocking. It reports false once the lane is stopped.
func (l *lane) push(msg *Message, session SessionID) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.items.Add(laneItem{msg: msg, session: session})
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

func (l *lane) pop() (laneItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.items.Length() == 0 {
		return laneItem{}, false
	}
	return l.items.Remove().(laneItem), true
}

func (l *lane) run(ctx context.Context) {
	defer close(l.done)
	for {
		for {
			it, ok := l.pop()
			if !ok {
				break
			}
			l.feed(ctx, it.msg, it.session)
		}
		select {
		case <-l.signal:
		case <-l.stop:
			return
		}
	}
}

// len reports how many dispatches are waiting.
func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.Length()
}

// shutdown stops accepting work, discards what is still queued and waits for
// the in-flight dispatch (if any) to return or ctx to end.
func (l *lane) shutdown(ctx context.Context) error {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		dropped := l.items.Length()
		l.items = queue.New()
		l.mu.Unlock()
		close(l.stop)
		if dropped > 0 {
			l.logger.Warn().Str("dropped", strconv.Itoa(dropped)).Msg("xmux: discarding undispatched updates")
		}
	})
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
