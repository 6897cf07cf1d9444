package xmux

import (
	"time"
)

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	SessionCreated  EventType = "session_created"
	SessionClosed   EventType = "session_closed"
	CallDone        EventType = "call_done"
	CallTimeout     EventType = "call_timeout"
	ResponseDropped EventType = "response_dropped"
	DispatchDone    EventType = "dispatch_done"
	HandlerFailed   EventType = "handler_error"
	ListenerFailed  EventType = "listener_error"
	ShutdownStart   EventType = "shutdown_start"
	ShutdownDone    EventType = "shutdown_done"
)

// Event carries telemetry for observers.
type Event struct {
	Type          EventType
	SessionID     SessionID
	CorrelationID CorrelationID
	MessageType   string
	Duration      time.Duration
	Err           error

	// Internal: attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events delivered to their observers
	Panics       uint64 // Observer panics recovered
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the runtime.
type Metrics struct {
	Received         uint64
	Calls            uint64
	CallTimeouts     uint64
	RemoteErrors     uint64
	ResponsesDropped uint64
	Dispatched       uint64
	HandlerErrors    uint64
	ListenerErrors   uint64
	SessionsCreated  uint64
	SessionsClosed   uint64
	OpenSessions     int
	PendingCalls     int
	EventsDropped    uint64
	AvgCallLatencyMs float64
}

// HealthStatus indicates runtime health for probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
