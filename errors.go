package xmux

import (
	"errors"
	"fmt"
	"time"
)

type ErrUnknownNative struct{ name string }

func (e ErrUnknownNative) Error() string { return fmt.Sprintf("unknown native: %s", e.name) }

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("xmux: timeout")
	// ErrUnregisteredResponse marks a response whose correlation id has no waiter.
	ErrUnregisteredResponse = errors.New("xmux: unregistered response")

	ErrShuttingDown       = errors.New("xmux: shutting down")
	ErrSessionClosed      = errors.New("xmux: session closed")
	ErrNotStarted         = errors.New("xmux: not started")
	ErrRuntimeClosed      = errors.New("xmux: runtime closed")
	ErrDispatcherAttached = errors.New("xmux: dispatcher already attached")

	ErrRouterCycle              = errors.New("xmux: router cycle")
	ErrNoNativeConfigured       = errors.New("xmux: no native configured")
	ErrInvalidMessage           = errors.New("xmux: invalid message")
	ErrObserverPoolCloseTimeout = errors.New("xmux: observer pool shutdown timeout")
)

// RemoteError is an error-kind response returned by the native layer.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// TimeoutError reports a call or shutdown phase that exceeded its deadline.
// Pending is the number of requests or sessions still outstanding.
type TimeoutError struct {
	Op      string
	After   time.Duration
	Pending int
}

func (e *TimeoutError) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("%s: timed out after %s (%d pending)", e.Op, e.After, e.Pending)
	}
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// HandlerError wraps a failure raised by a filter or handler.
type HandlerError struct {
	Type    string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %q: %v", e.Handler, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// LifecycleError reports an operation attempted in the wrong lifecycle state.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *LifecycleError) Unwrap() error { return e.Err }

func lifecycle(op string, err error) error { return &LifecycleError{Op: op, Err: err} }
