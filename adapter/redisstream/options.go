package redisstream

import (
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xmux"
)

// Option configures the xmux.RuntimeBuilder when calling Use.
type Option func(*xmux.RuntimeBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json). The peer must use the same one.
func WithCodec(name string) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithCodec(name) }
}

// WithReceiveTimeout sets the XREAD BLOCK bound per receive.
func WithReceiveTimeout(d time.Duration) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithReceiveTimeout(d) }
}

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithCallTimeout(d) }
}

// WithDispatcher attaches the dispatch tree receiving updates.
func WithDispatcher(dp *xmux.Dispatcher) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithDispatcher(dp) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xmux.Observer) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithObserver(obs...) }
}
