package xmux

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFilter(t *testing.T, f Filter, msg *Message, session SessionID) (Data, bool) {
	t.Helper()
	data, ok, err := f(context.Background(), &Update{Message: msg, Session: session, Data: Data{}})
	require.NoError(t, err)
	return data, ok
}

func TestTypeIn(t *testing.T) {
	f := TypeIn("a", "b")
	_, ok := runFilter(t, f, MustMessage("b", nil), 1)
	assert.True(t, ok)
	_, ok = runFilter(t, f, MustMessage("c", nil), 1)
	assert.False(t, ok)
}

func TestSessionIn(t *testing.T) {
	f := SessionIn(1, 3)
	_, ok := runFilter(t, f, MustMessage("u", nil), 3)
	assert.True(t, ok)
	_, ok = runFilter(t, f, MustMessage("u", nil), 2)
	assert.False(t, ok)
}

func TestFieldEquals(t *testing.T) {
	msg := MustMessage("updateNewMessage", map[string]any{"chat_id": 42, "text": "ping"})

	data, ok := runFilter(t, FieldEquals("chat_id", 42), msg, 1)
	require.True(t, ok)
	assert.Equal(t, float64(42), data["chat_id"])

	_, ok = runFilter(t, FieldEquals("text", "pong"), msg, 1)
	assert.False(t, ok)

	_, ok = runFilter(t, FieldEquals("missing", "x"), msg, 1)
	assert.False(t, ok)
}

func TestFieldEquals_UnencodableValue(t *testing.T) {
	_, _, err := FieldEquals("x", make(chan int))(context.Background(), &Update{Message: MustMessage("u", nil), Data: Data{}})
	assert.Error(t, err)
}
