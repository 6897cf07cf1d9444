package xmux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Update is one unsolicited event travelling through the dispatch tree.
type Update struct {
	Message *Message
	Session SessionID
	Data    Data
}

// fork copies u with its own Data so mutations stay in the new branch.
func (u *Update) fork() *Update {
	c := *u
	c.Data = u.Data.Clone()
	return &c
}

// HandlerFunc processes an update routed to it.
type HandlerFunc func(ctx context.Context, u *Update) error

// Filter decides whether a handler runs. Returning false skips the handler;
// returned Data is merged into the handler's view of the update. An error
// counts as a failed filter.
type Filter func(ctx context.Context, u *Update) (Data, bool, error)

// Middleware wraps the rest of a router's pipeline for one update.
type Middleware func(next HandlerFunc) HandlerFunc

// Handler is a callback plus its filter chain.
type Handler struct {
	Name    string
	Func    HandlerFunc
	Filters []Filter
}

func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("%p", fn)
}

// Router holds type-keyed handlers, child routers and a middleware chain.
type Router struct {
	name string

	mu          sync.RWMutex
	handlers    map[string][]*Handler
	children    []*Router
	middlewares []Middleware
}

// NewRouter returns an empty router. The name only appears in logs.
func NewRouter(name string) *Router {
	return &Router{name: name, handlers: make(map[string][]*Handler)}
}

func (r *Router) Name() string { return r.name }

// AddHandler registers fn for messages whose type tag equals typ exactly.
func (r *Router) AddHandler(typ string, fn HandlerFunc, filters ...Filter) *Handler {
	h := &Handler{Name: funcName(fn), Func: fn, Filters: filters}
	r.mu.Lock()
	r.handlers[typ] = append(r.handlers[typ], h)
	r.mu.Unlock()
	return h
}

// IncludeRouter attaches child after the existing children. Attaching a router
// to itself or to one of its own descendants fails with ErrRouterCycle.
func (r *Router) IncludeRouter(child *Router) error {
	if child == nil {
		return fmt.Errorf("%w: nil router", ErrRouterCycle)
	}
	if child == r || child.reaches(r) {
		return fmt.Errorf("%w: %q cannot include %q", ErrRouterCycle, r.name, child.name)
	}
	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()
	return nil
}

// IncludeRouters attaches several children in order, stopping at the first error.
func (r *Router) IncludeRouters(children ...*Router) error {
	for _, c := range children {
		if err := r.IncludeRouter(c); err != nil {
			return err
		}
	}
	return nil
}

// reaches reports whether target is r or one of its descendants.
func (r *Router) reaches(target *Router) bool {
	seen := map[*Router]bool{}
	stack := []*Router{r}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		n.mu.RLock()
		stack = append(stack, n.children...)
		n.mu.RUnlock()
	}
	return false
}

// Use appends middlewares; the first registered runs outermost.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	for _, m := range mw {
		if m != nil {
			r.middlewares = append(r.middlewares, m)
		}
	}
	r.mu.Unlock()
}

// prepend installs mw ahead of every middleware registered so far.
func (r *Router) prepend(mw Middleware) {
	r.mu.Lock()
	r.middlewares = append([]Middleware{mw}, r.middlewares...)
	r.mu.Unlock()
}

func (r *Router) snapshot(typ string) ([]*Handler, []*Router, []Middleware) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[typ], append([]*Router(nil), r.children...), append([]Middleware(nil), r.middlewares...)
}

// handle runs u through this router's middleware chain around its own handlers
// followed by every child, on a private copy of the update.
func (r *Router) handle(ctx context.Context, u *Update, report func(context.Context, *Update, *Handler, error)) error {
	u = u.fork()
	handlers, children, mws := r.snapshot(u.Message.Type)

	endpoint := func(ctx context.Context, u *Update) error {
		for _, h := range handlers {
			r.runHandler(ctx, u, h, report)
		}
		var errs []error
		for _, c := range children {
			if err := c.handleChild(ctx, u, report); err != nil {
				errs = append(errs, fmt.Errorf("router %q: %w", c.name, err))
			}
		}
		return errors.Join(errs...)
	}
	return Chain(endpoint, mws...)(ctx, u)
}

// handleChild runs a child subtree so that its middleware failing or
// panicking leaves the sibling subtrees unaffected.
func (r *Router) handleChild(ctx context.Context, u *Update, report func(context.Context, *Update, *Handler, error)) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic recovered: %v", rec)
		}
	}()
	return r.handle(ctx, u, report)
}

// runHandler evaluates filters and the handler on a handler-local copy of u.
// Failures are reported and never stop the remaining handlers.
func (r *Router) runHandler(ctx context.Context, u *Update, h *Handler, report func(context.Context, *Update, *Handler, error)) {
	hu := u.fork()
	defer func() {
		if rec := recover(); rec != nil {
			report(ctx, hu, h, fmt.Errorf("panic recovered: %v", rec))
		}
	}()
	for _, f := range h.Filters {
		extra, ok, err := f(ctx, hu)
		if err != nil {
			report(ctx, hu, h, fmt.Errorf("filter: %w", err))
			return
		}
		if !ok {
			return
		}
		hu.Data.Merge(extra)
	}
	if err := h.Func(ctx, hu); err != nil {
		report(ctx, hu, h, err)
	}
}

// Dispatcher is the root router; it also owns the named values every update starts with.
type Dispatcher struct {
	*Router

	logger  *xlog.Logger
	metrics *runtimeMetrics
	obs     *observerSet

	diMu sync.RWMutex
	di   Data
}

// NewDispatcher returns an empty root router.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Router:  NewRouter("root"),
		logger:  xlog.Default(),
		metrics: &runtimeMetrics{},
		di:      Data{},
	}
}

// Set stores a named value injected into every update.
func (d *Dispatcher) Set(name string, v any) {
	d.diMu.Lock()
	d.di[name] = v
	d.diMu.Unlock()
}

// Get returns a named value previously stored with Set.
func (d *Dispatcher) Get(name string) (any, bool) {
	d.diMu.RLock()
	defer d.diMu.RUnlock()
	v, ok := d.di[name]
	return v, ok
}

// Delete removes a named value.
func (d *Dispatcher) Delete(name string) {
	d.diMu.Lock()
	delete(d.di, name)
	d.diMu.Unlock()
}

// Feed dispatches msg, tagged with its owning session, through the whole tree.
// Errors never escape: they are logged and reported to observers.
func (d *Dispatcher) Feed(ctx context.Context, msg *Message, session SessionID) {
	d.diMu.RLock()
	data := d.di.Clone()
	d.diMu.RUnlock()
	KeySessionID.Set(data, session)
	KeyLogger.Set(data, d.logger)

	u := &Update{Message: msg, Session: session, Data: data}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().
				Str("type", msg.Type).
				Str("session_id", sessionStr(session)).
				Str("panic", fmt.Sprint(rec)).
				Msg("xmux: panic while processing update")
		}
	}()

	if err := d.handle(ctx, u, d.report); err != nil {
		d.logger.Error().
			Str("type", msg.Type).
			Str("session_id", sessionStr(session)).
			Err(err).
			Msg("xmux: error while processing update")
	}
	d.metrics.dispatched.Add(1)
	d.obs.notify(Event{Type: DispatchDone, SessionID: session, MessageType: msg.Type})
}

func (d *Dispatcher) report(_ context.Context, u *Update, h *Handler, err error) {
	herr := &HandlerError{Type: u.Message.Type, Handler: h.Name, Err: err}
	d.metrics.handlerErrors.Add(1)
	d.obs.notify(Event{Type: HandlerFailed, SessionID: u.Session, MessageType: u.Message.Type, Err: herr})
	d.logger.Error().
		Str("type", u.Message.Type).
		Str("session_id", sessionStr(u.Session)).
		Str("handler", h.Name).
		Err(err).
		Msg("xmux: handler failed")
}
