package xmux

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedEvent() *Message {
	return MustMessage("updateAuthorizationState", map[string]any{
		"authorization_state": map[string]any{"@type": "authorizationStateClosed"},
	})
}

// fakeCaller answers every call; close requests optionally report the session
// closed back to the registry, the way the dispatch layer would.
type fakeCaller struct {
	mu       sync.Mutex
	calls    []string
	reg      *SessionRegistry
	ignore   map[SessionID]bool
	closeErr error
}

func (f *fakeCaller) Call(_ context.Context, session SessionID, req *Message, _ time.Duration) (*Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Type)
	ignore := f.ignore[session]
	f.mu.Unlock()
	if req.Type == "close" {
		if f.closeErr != nil {
			return nil, f.closeErr
		}
		if !ignore {
			go f.reg.ObserveLifecycleEvent(session, closedEvent())
		}
	}
	return MustMessage("ok", nil), nil
}

func newTestRegistry() (*SessionRegistry, *fakeCaller) {
	var next atomic.Int64
	caller := &fakeCaller{ignore: map[SessionID]bool{}}
	reg := NewSessionRegistry(func() (SessionID, error) { return next.Add(1), nil }, caller, DefaultProtocol(), time.Second, nil)
	caller.reg = reg
	return reg, caller
}

func TestSessionRegistry_CreateAndGet(t *testing.T) {
	reg, _ := newTestRegistry()
	a, err := reg.CreateSession()
	require.NoError(t, err)
	b, err := reg.CreateSession()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, SessionStateActive, a.State())
	got, ok := reg.Get(b.ID())
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, []*Session{a, b}, reg.Sessions())
}

func TestSessionRegistry_CreateFailure(t *testing.T) {
	reg := NewSessionRegistry(func() (SessionID, error) { return 0, errors.New("no more clients") }, &fakeCaller{}, DefaultProtocol(), 0, nil)
	_, err := reg.CreateSession()
	assert.EqualError(t, err, "no more clients")
	assert.Equal(t, 0, reg.Len())
}

func TestSessionRegistry_ObserveClosedEvent(t *testing.T) {
	reg, _ := newTestRegistry()
	s, err := reg.CreateSession()
	require.NoError(t, err)

	assert.False(t, reg.ObserveLifecycleEvent(s.ID(), MustMessage("updateNewMessage", nil)))
	assert.Equal(t, SessionStateActive, s.State())

	assert.True(t, reg.ObserveLifecycleEvent(s.ID(), closedEvent()))
	assert.Equal(t, SessionStateClosed, s.State())
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.ObserveLifecycleEvent(s.ID(), closedEvent()), "already removed")

	_, err = s.Call(context.Background(), MustMessage("getMe", nil), 0)
	assert.ErrorIs(t, err, ErrSessionClosed)
	var lerr *LifecycleError
	assert.ErrorAs(t, err, &lerr)
}

func TestSessionRegistry_ShutdownClosesEverySession(t *testing.T) {
	reg, caller := newTestRegistry()
	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := reg.CreateSession()
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	require.NoError(t, reg.Shutdown(context.Background(), time.Second))
	assert.Equal(t, 0, reg.Len())
	for _, s := range sessions {
		assert.Equal(t, SessionStateClosed, s.State())
	}
	assert.Equal(t, []string{"close", "close", "close"}, caller.calls)

	_, err := reg.CreateSession()
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.NoError(t, reg.Shutdown(context.Background(), time.Second), "second shutdown is a no-op")
	assert.Len(t, caller.calls, 3)
}

func TestSessionRegistry_ShutdownTimeoutKeepsRemainingSessions(t *testing.T) {
	reg, caller := newTestRegistry()
	a, err := reg.CreateSession()
	require.NoError(t, err)
	b, err := reg.CreateSession()
	require.NoError(t, err)
	caller.ignore[b.ID()] = true

	err = reg.Shutdown(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, terr.Pending)

	assert.Equal(t, SessionStateClosed, a.State())
	got, ok := reg.Get(b.ID())
	require.True(t, ok, "unclosed session stays tracked")
	assert.Same(t, b, got)
	assert.Equal(t, 1, reg.Len())
}

func TestSessionRegistry_ShutdownJoinsCloseErrorsOnTimeout(t *testing.T) {
	reg, caller := newTestRegistry()
	_, err := reg.CreateSession()
	require.NoError(t, err)
	caller.closeErr = errors.New("send failed")

	err = reg.Shutdown(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorContains(t, err, "send failed")
}

func TestSessionRegistry_ShutdownWithNoSessions(t *testing.T) {
	reg, _ := newTestRegistry()
	assert.NoError(t, reg.Shutdown(context.Background(), 10*time.Millisecond))
}

func TestSession_CallUsesDefaultTimeout(t *testing.T) {
	var got time.Duration
	caller := callerFunc(func(_ context.Context, _ SessionID, _ *Message, d time.Duration) (*Message, error) {
		got = d
		return MustMessage("ok", nil), nil
	})
	s := newSession(1, caller, 3*time.Second)
	_, err := s.Call(context.Background(), MustMessage("getMe", nil), 0)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, got)

	_, err = s.Call(context.Background(), MustMessage("getMe", nil), time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, got)
}

type callerFunc func(ctx context.Context, session SessionID, req *Message, timeout time.Duration) (*Message, error)

func (f callerFunc) Call(ctx context.Context, session SessionID, req *Message, timeout time.Duration) (*Message, error) {
	return f(ctx, session, req, timeout)
}

func TestSessionRegistry_SlowCreateDoesNotBlockLifecycle(t *testing.T) {
	var next atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})
	caller := &fakeCaller{ignore: map[SessionID]bool{}}
	reg := NewSessionRegistry(func() (SessionID, error) {
		id := next.Add(1)
		if id == 2 {
			close(entered)
			<-release
		}
		return id, nil
	}, caller, DefaultProtocol(), time.Second, nil)
	caller.reg = reg

	first, err := reg.CreateSession()
	require.NoError(t, err)

	created := make(chan error, 1)
	go func() {
		_, err := reg.CreateSession()
		created <- err
	}()
	<-entered

	observed := make(chan bool, 1)
	go func() { observed <- reg.ObserveLifecycleEvent(first.ID(), closedEvent()) }()
	select {
	case ok := <-observed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("lifecycle event blocked behind a pending create")
	}

	require.NoError(t, reg.Shutdown(context.Background(), time.Second))
	close(release)
	assert.ErrorIs(t, <-created, ErrShuttingDown, "shutdown that began during create wins")
	assert.Equal(t, 0, reg.Len())
}
