package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xmux"
)

// Use builds a Runtime over a fresh in-memory peer and returns both, so tests
// and examples can script the peer while driving the runtime.
//
// Example:
//
//	rt, peer := memory.Use(memory.Config{ReplyDelay: 10 * time.Millisecond},
//	    memory.WithLogger(logger),
//	    memory.WithDispatcher(dp),
//	)
//
// It panics if the runtime cannot be built.
func Use(cfg Config, opts ...Option) (*xmux.Runtime, *Native) {
	n, err := NewNative(cfg)
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	rb := xmux.NewRuntimeBuilder().
		WithNativeInstance(n).
		WithCodec(n.cfg.Codec)

	for _, o := range opts {
		if o != nil {
			o(rb)
		}
	}

	rt, err := rb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return rt, n
}

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

// WithReceiveTimeout bounds each blocking receive (default: 60s).
func WithReceiveTimeout(d time.Duration) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithReceiveTimeout(d) }
}

// WithCallTimeout sets the default per-call timeout (default: 30s).
func WithCallTimeout(d time.Duration) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithCallTimeout(d) }
}

// WithShutdownTimeout bounds Runtime.Shutdown (default: 60s).
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithShutdownTimeout(d) }
}

// WithDispatcher attaches the dispatch tree receiving updates.
func WithDispatcher(dp *xmux.Dispatcher) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithDispatcher(dp) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xmux.Observer) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xmux.RuntimeBuilder) { b.WithObserverPool(workers, bufferSize) }
}
