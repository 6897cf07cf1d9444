package xmux

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// RuntimeBuilder constructs Runtime instances (Builder pattern).
type RuntimeBuilder struct {
	nativeName string
	nativeCfg  map[string]any
	nativeInst Native

	codecName string
	codecInst Codec

	protocol        *Protocol
	logger          *xlog.Logger
	clock           xclock.Clock
	receiveTimeout  time.Duration
	queueSize       int
	callTimeout     time.Duration
	shutdownTimeout time.Duration

	observers   []Observer
	poolWorkers int
	poolBuffer  int
	dispatcher  *Dispatcher
}

// NewRuntimeBuilder returns a builder with the default codec and timeouts.
func NewRuntimeBuilder() *RuntimeBuilder {
	return &RuntimeBuilder{
		codecName:       "json",
		receiveTimeout:  DefaultReceiveTimeout,
		queueSize:       DefaultQueueSize,
		callTimeout:     DefaultCallTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// WithNative selects a registered native by name.
func (rb *RuntimeBuilder) WithNative(name string, cfg map[string]any) *RuntimeBuilder {
	rb.nativeName = name
	rb.nativeCfg = cfg
	return rb
}

// WithNativeInstance accepts a ready Native (e.g. from an adapter's Use()).
func (rb *RuntimeBuilder) WithNativeInstance(n Native) *RuntimeBuilder {
	rb.nativeInst = n
	return rb
}

func (rb *RuntimeBuilder) WithCodec(name string) *RuntimeBuilder {
	rb.codecName = name
	return rb
}

func (rb *RuntimeBuilder) WithCodecInstance(c Codec) *RuntimeBuilder {
	rb.codecInst = c
	return rb
}

// WithProtocol overrides how error responses, close requests and the closed
// lifecycle event are recognised.
func (rb *RuntimeBuilder) WithProtocol(p Protocol) *RuntimeBuilder {
	rb.protocol = &p
	return rb
}

func (rb *RuntimeBuilder) WithLogger(l *xlog.Logger) *RuntimeBuilder {
	rb.logger = l
	return rb
}

func (rb *RuntimeBuilder) WithClock(c xclock.Clock) *RuntimeBuilder {
	rb.clock = c
	return rb
}

func (rb *RuntimeBuilder) WithReceiveTimeout(d time.Duration) *RuntimeBuilder {
	if d > 0 {
		rb.receiveTimeout = d
	}
	return rb
}

func (rb *RuntimeBuilder) WithQueueSize(n int) *RuntimeBuilder {
	if n > 0 {
		rb.queueSize = n
	}
	return rb
}

func (rb *RuntimeBuilder) WithCallTimeout(d time.Duration) *RuntimeBuilder {
	if d > 0 {
		rb.callTimeout = d
	}
	return rb
}

func (rb *RuntimeBuilder) WithShutdownTimeout(d time.Duration) *RuntimeBuilder {
	if d > 0 {
		rb.shutdownTimeout = d
	}
	return rb
}

func (rb *RuntimeBuilder) WithObserver(obs ...Observer) *RuntimeBuilder {
	for _, o := range obs {
		if o != nil {
			rb.observers = append(rb.observers, o)
		}
	}
	return rb
}

// WithObserverPool delivers observer events asynchronously on workers goroutines.
func (rb *RuntimeBuilder) WithObserverPool(workers, bufferSize int) *RuntimeBuilder {
	if workers < 1 {
		workers = DefaultObserverWorkers
	}
	rb.poolWorkers = workers
	rb.poolBuffer = bufferSize
	return rb
}

// WithDispatcher attaches dp at build time.
func (rb *RuntimeBuilder) WithDispatcher(dp *Dispatcher) *RuntimeBuilder {
	rb.dispatcher = dp
	return rb
}

// WithConfig applies every non-zero field of cfg.
func (rb *RuntimeBuilder) WithConfig(cfg Config) *RuntimeBuilder {
	if cfg.Native.Name != "" {
		rb.WithNative(cfg.Native.Name, cfg.Native.Options)
	}
	if cfg.Codec != "" {
		rb.WithCodec(cfg.Codec)
	}
	rb.WithReceiveTimeout(cfg.ReceiveTimeout)
	rb.WithQueueSize(cfg.QueueSize)
	rb.WithCallTimeout(cfg.CallTimeout)
	rb.WithShutdownTimeout(cfg.ShutdownTimeout)
	if cfg.Observers.Workers > 0 {
		rb.WithObserverPool(cfg.Observers.Workers, cfg.Observers.BufferSize)
	}
	return rb
}

func (rb *RuntimeBuilder) Build() (*Runtime, error) {
	var (
		nt  Native
		err error
	)
	switch {
	case rb.nativeInst != nil:
		nt = rb.nativeInst
	case rb.nativeName != "":
		nt, err = NewNative(rb.nativeName, rb.nativeCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoNativeConfigured
	}

	cd := rb.codecInst
	if cd == nil {
		cd, err = NewCodec(rb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := rb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := rb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	proto := DefaultProtocol()
	if rb.protocol != nil {
		proto = rb.protocol.withDefaults()
	}

	r := &Runtime{
		binding:         NewBinding(nt, cd, clk),
		protocol:        proto,
		clock:           clk,
		logger:          lg,
		shutdownTimeout: rb.shutdownTimeout,
		metrics:         &runtimeMetrics{},
		obs:             &observerSet{},
	}
	if rb.poolWorkers > 0 {
		r.pool = NewObserverPool(rb.poolWorkers, rb.poolBuffer)
		r.obs.pool = r.pool
	}

	r.listener = NewListener(r.binding.Receive, rb.receiveTimeout, rb.queueSize, lg)
	r.correlator = NewCorrelator(r.binding.Send, proto, clk, lg)
	r.registry = NewSessionRegistry(r.binding.Create, r.correlator, proto, rb.callTimeout, lg)
	r.loop = NewEventLoop(r.listener, r.correlator, lg)
	r.loop.prepare = func(ctx context.Context) context.Context {
		return InjectAll(ctx, lg, clk, r)
	}
	r.listener.metrics, r.listener.obs = r.metrics, r.obs
	r.correlator.metrics, r.correlator.obs = r.metrics, r.obs
	r.registry.metrics, r.registry.obs = r.metrics, r.obs

	hasLoggingObserver := false
	for _, o := range rb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		r.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range rb.observers {
		r.AddObserver(o)
	}

	if rb.dispatcher != nil {
		if err := r.AttachDispatcher(rb.dispatcher); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// New constructs a Runtime via the builder and returns a shutdown func for convenience.
func New(init func(rb *RuntimeBuilder)) (*Runtime, func() error, error) {
	rb := NewRuntimeBuilder()
	if init != nil {
		init(rb)
	}
	r, err := rb.Build()
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() error { return r.Shutdown(context.Background()) }
	return r, shutdown, nil
}
