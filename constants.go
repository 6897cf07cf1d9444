package xmux

import "time"

const (
	// DefaultReceiveTimeout bounds one blocking receive on the native interface.
	DefaultReceiveTimeout = 60 * time.Second
	// DefaultQueueSize is the capacity of the listener to event loop handoff.
	DefaultQueueSize = 20
	// DefaultCallTimeout applies to Session.Call when no timeout is given.
	DefaultCallTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds Runtime.Shutdown when no timeout is given.
	DefaultShutdownTimeout = 60 * time.Second

	DefaultObserverWorkers    = 2
	DefaultObserverBufferSize = 1024
)
