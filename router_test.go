package xmux

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	tr.steps = append(tr.steps, s)
	tr.mu.Unlock()
}

func (tr *trace) handler(name string) HandlerFunc {
	return func(context.Context, *Update) error {
		tr.add(name)
		return nil
	}
}

func TestDispatcher_ExactTypeMatch(t *testing.T) {
	tr := &trace{}
	dp := NewDispatcher()
	dp.AddHandler("updateNewMessage", tr.handler("new"))
	dp.AddHandler("updateNewMessageContent", tr.handler("content"))

	dp.Feed(context.Background(), MustMessage("updateNewMessage", nil), 1)
	assert.Equal(t, []string{"new"}, tr.steps)
}

func TestDispatcher_OwnHandlersBeforeChildrenInOrder(t *testing.T) {
	tr := &trace{}
	dp := NewDispatcher()
	child1 := NewRouter("child1")
	child2 := NewRouter("child2")
	grandchild := NewRouter("grandchild")

	child1.AddHandler("u", tr.handler("child1"))
	child2.AddHandler("u", tr.handler("child2"))
	grandchild.AddHandler("u", tr.handler("grandchild"))
	require.NoError(t, child1.IncludeRouter(grandchild))
	require.NoError(t, dp.IncludeRouters(child1, child2))
	dp.AddHandler("u", tr.handler("root-a"))
	dp.AddHandler("u", tr.handler("root-b"))

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, []string{"root-a", "root-b", "child1", "grandchild", "child2"}, tr.steps)
}

func TestDispatcher_FilterDataVisibleToHandler(t *testing.T) {
	dp := NewDispatcher()
	var got any
	var sawInSibling bool
	dp.AddHandler("u", func(_ context.Context, u *Update) error {
		got = u.Data["x"]
		return nil
	}, func(context.Context, *Update) (Data, bool, error) {
		return Data{"x": 1}, true, nil
	})
	dp.AddHandler("u", func(_ context.Context, u *Update) error {
		_, sawInSibling = u.Data["x"]
		return nil
	})

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, 1, got)
	assert.False(t, sawInSibling, "filter data stays with its handler")
}

func TestDispatcher_FiltersRunInOrderAndSeeEarlierData(t *testing.T) {
	dp := NewDispatcher()
	called := false
	dp.AddHandler("u", func(context.Context, *Update) error {
		called = true
		return nil
	},
		func(context.Context, *Update) (Data, bool, error) { return Data{"n": 2}, true, nil },
		func(_ context.Context, u *Update) (Data, bool, error) {
			n, _ := Value[int](u.Data, "n")
			return nil, n == 2, nil
		},
	)
	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.True(t, called)
}

func TestDispatcher_FilterRejectAndErrorSkipOnlyThatHandler(t *testing.T) {
	tr := &trace{}
	dp := NewDispatcher()
	dp.AddHandler("u", tr.handler("rejected"), Predicate(func(*Update) bool { return false }))
	dp.AddHandler("u", tr.handler("failed"), func(context.Context, *Update) (Data, bool, error) {
		return nil, false, errors.New("filter broke")
	})
	dp.AddHandler("u", tr.handler("ran"))

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, []string{"ran"}, tr.steps)
	assert.Equal(t, uint64(1), dp.metrics.handlerErrors.Load())
}

func TestDispatcher_HandlerFailuresAreIsolated(t *testing.T) {
	tr := &trace{}
	var failures []*HandlerError
	dp := NewDispatcher()
	dp.obs = &observerSet{}
	dp.obs.add(ObserverFunc(func(e Event) {
		if e.Type == HandlerFailed {
			var herr *HandlerError
			if errors.As(e.Err, &herr) {
				failures = append(failures, herr)
			}
		}
	}))

	dp.AddHandler("u", func(context.Context, *Update) error { return errors.New("nope") })
	dp.AddHandler("u", func(context.Context, *Update) error { panic("kaboom") })
	dp.AddHandler("u", tr.handler("survivor"))

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, []string{"survivor"}, tr.steps)
	require.Len(t, failures, 2)
	assert.Equal(t, "u", failures[0].Type)
	assert.EqualError(t, failures[0].Err, "nope")
	assert.Contains(t, failures[1].Err.Error(), "kaboom")
	assert.Equal(t, uint64(1), dp.metrics.dispatched.Load())
}

func TestDispatcher_CopyOnRecurse(t *testing.T) {
	dp := NewDispatcher()
	dp.Set("shared", "root")

	branch := NewRouter("branch")
	branch.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, u *Update) error {
			u.Data["branch"] = true
			u.Data["shared"] = "branch"
			return next(ctx, u)
		}
	})
	var inBranch, inSibling Data
	branch.AddHandler("u", func(_ context.Context, u *Update) error {
		inBranch = u.Data.Clone()
		return nil
	})
	sibling := NewRouter("sibling")
	sibling.AddHandler("u", func(_ context.Context, u *Update) error {
		inSibling = u.Data.Clone()
		return nil
	})
	require.NoError(t, dp.IncludeRouters(branch, sibling))

	dp.Feed(context.Background(), MustMessage("u", nil), 9)
	assert.Equal(t, "branch", inBranch["shared"])
	assert.Equal(t, true, inBranch["branch"])
	assert.Equal(t, "root", inSibling["shared"])
	assert.NotContains(t, inSibling, "branch")

	id, ok := KeySessionID.Get(inSibling)
	require.True(t, ok)
	assert.Equal(t, SessionID(9), id)
}

func TestDispatcher_NamedValues(t *testing.T) {
	dp := NewDispatcher()
	dp.Set("db", 42)
	v, ok := dp.Get("db")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	dp.Delete("db")
	_, ok = dp.Get("db")
	assert.False(t, ok)
}

func TestRouter_MiddlewareOrderFirstIsOutermost(t *testing.T) {
	tr := &trace{}
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, u *Update) error {
				tr.add(name + ">")
				err := next(ctx, u)
				tr.add("<" + name)
				return err
			}
		}
	}
	dp := NewDispatcher()
	dp.Use(mw("outer"), mw("inner"))
	dp.AddHandler("u", tr.handler("h"))

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, []string{"outer>", "inner>", "h", "<inner", "<outer"}, tr.steps)
}

func TestRouter_MiddlewareMayShortCircuit(t *testing.T) {
	tr := &trace{}
	dp := NewDispatcher()
	child := NewRouter("child")
	child.Use(func(HandlerFunc) HandlerFunc {
		return func(context.Context, *Update) error { return nil }
	})
	child.AddHandler("u", tr.handler("child"))
	require.NoError(t, dp.IncludeRouter(child))
	dp.AddHandler("u", tr.handler("root"))

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, []string{"root"}, tr.steps)
}

func TestRouter_FailingChildDoesNotStopSiblings(t *testing.T) {
	tr := &trace{}
	dp := NewDispatcher()
	failing := NewRouter("failing")
	failing.Use(func(HandlerFunc) HandlerFunc {
		return func(context.Context, *Update) error { return errors.New("deadline hit") }
	})
	failing.AddHandler("u", tr.handler("failing"))
	panicking := NewRouter("panicking")
	panicking.Use(func(HandlerFunc) HandlerFunc {
		return func(context.Context, *Update) error { panic("middleware bug") }
	})
	healthy := NewRouter("healthy")
	healthy.AddHandler("u", tr.handler("healthy"))
	require.NoError(t, dp.IncludeRouters(failing, panicking, healthy))

	u := &Update{Message: MustMessage("u", nil), Session: 1, Data: Data{}}
	err := dp.handle(context.Background(), u, dp.report)
	require.Error(t, err)
	assert.ErrorContains(t, err, `router "failing": deadline hit`)
	assert.ErrorContains(t, err, `router "panicking": panic recovered: middleware bug`)
	assert.Equal(t, []string{"healthy"}, tr.steps)

	dp.Feed(context.Background(), MustMessage("u", nil), 1)
	assert.Equal(t, []string{"healthy", "healthy"}, tr.steps)
}

func TestDispatcher_MiddlewarePanicContained(t *testing.T) {
	dp := NewDispatcher()
	dp.Use(func(HandlerFunc) HandlerFunc {
		return func(context.Context, *Update) error { panic("middleware bug") }
	})
	assert.NotPanics(t, func() {
		dp.Feed(context.Background(), MustMessage("u", nil), 1)
	})
}

func TestRouter_IncludeRejectsCycles(t *testing.T) {
	a, b, c := NewRouter("a"), NewRouter("b"), NewRouter("c")
	require.NoError(t, a.IncludeRouter(b))
	require.NoError(t, b.IncludeRouter(c))

	assert.ErrorIs(t, a.IncludeRouter(a), ErrRouterCycle)
	assert.ErrorIs(t, c.IncludeRouter(a), ErrRouterCycle)
	assert.ErrorIs(t, c.IncludeRouter(b), ErrRouterCycle)
	assert.ErrorIs(t, a.IncludeRouter(nil), ErrRouterCycle)

	// sharing a router under two parents is fine
	d := NewRouter("d")
	require.NoError(t, d.IncludeRouter(c))
}

func TestKey_TypedAccess(t *testing.T) {
	k := NewKey[int]("count")
	d := Data{}
	_, ok := k.Get(d)
	assert.False(t, ok)

	k.Set(d, 3)
	v, ok := k.Get(d)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	d["count"] = "three"
	_, ok = k.Get(d)
	assert.False(t, ok, "mistyped entries are reported missing")
}
