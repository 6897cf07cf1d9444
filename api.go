package xmux

import (
	"context"
	"time"
)

// Native is the Strategy interface for the underlying messaging library.
// Receive is the only blocking call; it returns a nil frame when timeout elapses.
type Native interface {
	// Create allocates a fresh native client id.
	Create() (SessionID, error)
	// Send is fire-and-forget; the response, if any, arrives through Receive.
	Send(session SessionID, frame []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	// Execute runs a session-independent request synchronously.
	Execute(frame []byte) ([]byte, error)
}

// Codec is the Strategy for framing messages on the native wire.
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
	Name() string
}

// Observer receives runtime lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Caller issues correlated requests on behalf of a session.
type Caller interface {
	Call(ctx context.Context, session SessionID, req *Message, timeout time.Duration) (*Message, error)
}

// API represents the complete runtime surface.
type API interface {
	Start(ctx context.Context) error
	CreateSession() (*Session, error)
	Execute(req *Message) (*Message, error)
	AttachDispatcher(dp *Dispatcher) error
	Join(ctx context.Context) error
	Shutdown(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Runtime)(nil)
