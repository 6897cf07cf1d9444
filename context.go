package xmux

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey namespaces the values xmux stores in a context.Context.
type ctxKey string

const (
	loggerCtxKey  ctxKey = "xmux:logger"
	clockCtxKey   ctxKey = "xmux:clock"
	sessionCtxKey ctxKey = "xmux:session"
	runtimeCtxKey ctxKey = "xmux:runtime"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the runtime logger handed to handlers.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	l, ok := ctx.Value(loggerCtxKey).(*xlog.Logger)
	return l, ok && l != nil
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	c, ok := ctx.Value(clockCtxKey).(xclock.Clock)
	return c, ok && c != nil
}

func clockOrDefault(ctx context.Context) xclock.Clock {
	if c, ok := ClockFromContext(ctx); ok {
		return c
	}
	return xclock.Default()
}

func injectSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey, s)
}

// SessionFromContext returns the session owning the update being handled.
// It is populated by SessionMiddleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(*Session)
	return s, ok && s != nil
}

func injectRuntime(ctx context.Context, rt *Runtime) context.Context {
	if rt == nil {
		return ctx
	}
	return context.WithValue(ctx, runtimeCtxKey, rt)
}

// RuntimeFromContext returns the runtime dispatching the current update.
func RuntimeFromContext(ctx context.Context) (*Runtime, bool) {
	rt, ok := ctx.Value(runtimeCtxKey).(*Runtime)
	return rt, ok && rt != nil
}

// InjectAll attaches the standard dependencies in one call.
func InjectAll(ctx context.Context, logger *xlog.Logger, clock xclock.Clock, rt *Runtime) context.Context {
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return injectRuntime(ctx, rt)
}
