package xmux

import (
	"context"
	"fmt"
	"time"
)

// TimeoutMiddleware bounds the time the rest of a router's pipeline may take.
// The pipeline keeps running in the background after the deadline; handlers
// that honour ctx stop early.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, u *Update) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("panic recovered: %v", r)
					}
				}()
				errCh <- next(tctx, u)
			}()

			select {
			case <-tctx.Done():
				return fmt.Errorf("dispatch %q: %w", u.Message.Type, tctx.Err())
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware turns a panic in the rest of the pipeline into an error.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, u *Update) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, u)
		}
	}
}

// LoggingMiddleware logs every update entering the router with its duration.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, u *Update) error {
			logger, ok := LoggerFromContext(ctx)
			if !ok {
				return next(ctx, u)
			}
			clk := clockOrDefault(ctx)
			start := clk.Now()
			err := next(ctx, u)
			ev := logger.Debug()
			if err != nil {
				ev = logger.Warn().Err(err)
			}
			ev.Str("type", u.Message.Type).
				Str("session_id", sessionStr(u.Session)).
				Dur("took", clk.Since(start)).
				Msg("xmux: update dispatched")
			return err
		}
	}
}

// SessionMiddleware exposes the owning *Session under KeySession and lets the
// registry observe lifecycle events before the rest of the pipeline runs.
func SessionMiddleware(reg *SessionRegistry) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, u *Update) error {
			if u.Session == 0 {
				return next(ctx, u)
			}
			if s, ok := reg.Get(u.Session); ok {
				KeySession.Set(u.Data, s)
				ctx = injectSession(ctx, s)
			}
			reg.ObserveLifecycleEvent(u.Session, u.Message)
			return next(ctx, u)
		}
	}
}

// Chain composes middlewares around h; the first one ends up outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
