package redisstream

import (
	"errors"
	"fmt"

	"github.com/trickstertwo/xmux"
)

const NativeName = "redis-streams"

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("redisstream native is closed")

func init() {
	if err := xmux.RegisterNative(NativeName, func(cfg map[string]any) (xmux.Native, error) {
		return NewNative(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xmux: failed to register native %q: %w", NativeName, err))
	}
}

// Use builds a Runtime over Redis Streams and returns it. It panics when Redis
// is unreachable or the runtime cannot be built.
func Use(cfg Config, opts ...Option) *xmux.Runtime {
	rb := xmux.NewRuntimeBuilder().
		WithNative(NativeName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(rb)
		}
	}
	rt, err := rb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	return rt
}
