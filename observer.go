package xmux

import (
	"reflect"
	"sync"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits runtime events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("message_type", e.MessageType),
	)
	switch e.Type {
	case HandlerFailed, ListenerFailed, CallTimeout, ResponseDropped:
		ev.Warn().
			Str("session_id", sessionStr(e.SessionID)).
			Str("correlation_id", correlationStr(e.CorrelationID)).
			Err(e.Err).
			Msg("xmux event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Str("session_id", sessionStr(e.SessionID)).Msg("xmux event")
	}
}

// observerSet is the registration list shared by the runtime and its components.
type observerSet struct {
	mu        sync.RWMutex
	observers []Observer
	pool      *ObserverPool
	closed    bool
}

func (s *observerSet) add(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

func (s *observerSet) remove(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if sameObserver(o, obs) {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			break
		}
	}
}

// notify dispatches through the pool when configured, inline otherwise.
func (s *observerSet) notify(e Event) {
	if s == nil {
		return
	}
	s.mu.RLock()
	if s.closed || len(s.observers) == 0 {
		s.mu.RUnlock()
		return
	}
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	pool := s.pool
	s.mu.RUnlock()

	if pool != nil {
		pool.Notify(e, obs)
		return
	}
	for _, o := range obs {
		func() {
			defer func() { _ = recover() }()
			o.OnEvent(e)
		}()
	}
}

func (s *observerSet) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// sameObserver compares without panicking on uncomparable dynamic types such as ObserverFunc.
func sameObserver(a, b Observer) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}
