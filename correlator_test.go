package xmux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentRequest records one SendFunc invocation.
type sentRequest struct {
	session SessionID
	req     *Message
	id      CorrelationID
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentRequest
	ch   chan sentRequest
	err  error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan sentRequest, 16)}
}

func (s *recordingSender) send(session SessionID, req *Message, id CorrelationID) error {
	if s.err != nil {
		return s.err
	}
	r := sentRequest{session: session, req: req, id: id}
	s.mu.Lock()
	s.sent = append(s.sent, r)
	s.mu.Unlock()
	s.ch <- r
	return nil
}

func (s *recordingSender) next(t *testing.T) sentRequest {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return sentRequest{}
	}
}

func response(typ string, id CorrelationID, body any) *Message {
	m := MustMessage(typ, body)
	m.CorrelationID = id
	return m
}

func TestCorrelator_ResolveDeliversResponse(t *testing.T) {
	s := newRecordingSender()
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	type result struct {
		msg *Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := c.Call(context.Background(), 7, MustMessage("getMe", nil), time.Second)
		done <- result{m, err}
	}()

	r := s.next(t)
	assert.Equal(t, SessionID(7), r.session)
	assert.Equal(t, CorrelationID(1), r.id, "first id issued is 1")
	assert.Equal(t, 1, c.Pending())

	resp := response("user", r.id, map[string]any{"id": 42})
	assert.True(t, c.Resolve(resp))

	got := <-done
	require.NoError(t, got.err)
	assert.Same(t, resp, got.msg)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_RemoteError(t *testing.T) {
	s := newRecordingSender()
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), 1, MustMessage("getChat", nil), time.Second)
		errCh <- err
	}()
	r := s.next(t)
	c.Resolve(response("error", r.id, map[string]any{"code": 400, "message": "Chat not found"}))

	err := <-errCh
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 400, rerr.Code)
	assert.Equal(t, "Chat not found", rerr.Message)
	assert.Equal(t, uint64(1), c.metrics.remoteErrors.Load())
}

func TestCorrelator_TimeoutRemovesEntryAndDropsLateResponse(t *testing.T) {
	s := newRecordingSender()
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	_, err := c.Call(context.Background(), 1, MustMessage("slow", nil), 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 20*time.Millisecond, terr.After)
	assert.Equal(t, 0, c.Pending())

	r := s.next(t)
	assert.False(t, c.Resolve(response("ok", r.id, nil)), "late response must be dropped")
	assert.Equal(t, uint64(1), c.metrics.responsesDropped.Load())
	assert.Equal(t, uint64(1), c.metrics.callTimeouts.Load())
}

func TestCorrelator_LateResponseLeavesOtherCallsPending(t *testing.T) {
	s := newRecordingSender()
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	type result struct {
		m   *Message
		err error
	}
	longCh := make(chan result, 1)
	go func() {
		m, err := c.Call(context.Background(), 2, MustMessage("getChats", nil), 2*time.Second)
		longCh <- result{m, err}
	}()
	long := s.next(t)

	_, err := c.Call(context.Background(), 1, MustMessage("slow", nil), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	short := s.next(t)
	require.NotEqual(t, long.id, short.id)
	assert.Equal(t, 1, c.Pending(), "only the timed out entry is removed")

	assert.False(t, c.Resolve(response("ok", short.id, nil)))
	assert.Equal(t, 1, c.Pending(), "a late response does not touch other entries")

	require.True(t, c.Resolve(response("chats", long.id, nil)))
	got := <-longCh
	require.NoError(t, got.err)
	assert.Equal(t, "chats", got.m.Type)
	assert.Equal(t, long.id, got.m.CorrelationID)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_UnknownIDIsDropped(t *testing.T) {
	c := NewCorrelator(newRecordingSender().send, DefaultProtocol(), nil, nil)
	assert.False(t, c.Resolve(response("ok", 99, nil)))
}

func TestCorrelator_ContextCancelReleasesEntry(t *testing.T) {
	s := newRecordingSender()
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, 1, MustMessage("getMe", nil), time.Minute)
		errCh <- err
	}()
	s.next(t)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_SendFailureReleasesEntry(t *testing.T) {
	s := newRecordingSender()
	s.err = errors.New("native gone")
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	_, err := c.Call(context.Background(), 1, MustMessage("getMe", nil), time.Second)
	assert.EqualError(t, err, "native gone")
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_IDsAreUniqueAndSkipOutstanding(t *testing.T) {
	c := NewCorrelator(newRecordingSender().send, DefaultProtocol(), nil, nil)
	a := c.register(1)
	b := c.register(1)
	assert.NotEqual(t, a.id, b.id)

	// force the counter to wrap onto an outstanding id
	c.lastID = ^CorrelationID(0)
	p := c.register(1)
	assert.NotEqual(t, CorrelationID(0), p.id)
	assert.NotEqual(t, a.id, p.id)
	assert.NotEqual(t, b.id, p.id)
}

func TestCorrelator_FailAll(t *testing.T) {
	s := newRecordingSender()
	c := NewCorrelator(s.send, DefaultProtocol(), nil, nil)

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Call(context.Background(), 1, MustMessage("getMe", nil), time.Minute)
			errCh <- err
		}()
		s.next(t)
	}
	assert.Equal(t, 2, c.FailAll(lifecycle("call", ErrShuttingDown)))
	assert.ErrorIs(t, <-errCh, ErrShuttingDown)
	assert.ErrorIs(t, <-errCh, ErrShuttingDown)
	assert.Equal(t, 0, c.Pending())
}
