package xmux

import "sync/atomic"

// runtimeMetrics uses lock-free atomics so every component can count without coordination.
type runtimeMetrics struct {
	received         atomic.Uint64
	calls            atomic.Uint64
	callTimeouts     atomic.Uint64
	remoteErrors     atomic.Uint64
	responsesDropped atomic.Uint64
	dispatched       atomic.Uint64
	handlerErrors    atomic.Uint64
	listenerErrors   atomic.Uint64
	sessionsCreated  atomic.Uint64
	sessionsClosed   atomic.Uint64
	callLatencyNs    atomic.Int64
}

// recordCallLatency records call latency using exponential moving average.
func (m *runtimeMetrics) recordCallLatency(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := m.callLatencyNs.Load()
	if current == 0 {
		m.callLatencyNs.Store(ns)
		return
	}
	m.callLatencyNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
