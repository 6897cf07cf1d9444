package xmux

import (
	"context"
	"sync"
	"sync/atomic"
)

// ObserverPool fans runtime events out to observers on background workers so a
// slow observer never stalls the listener, the event loop or a dispatch.
// When the buffer is full the event is dropped and counted.
type ObserverPool struct {
	eventCh   chan *Event
	workers   int
	stop      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64
}

// NewObserverPool starts workers goroutines reading from a buffer of bufferSize events.
func NewObserverPool(workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = DefaultObserverWorkers
	}
	if bufferSize < 1 {
		bufferSize = DefaultObserverBufferSize
	}
	op := &ObserverPool{
		eventCh: make(chan *Event, bufferSize),
		workers: workers,
		stop:    make(chan struct{}),
	}
	op.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go op.worker()
	}
	return op
}

// Notify queues e for the given observers without blocking.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	e.observers = observers
	select {
	case op.eventCh <- &e:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case e := <-op.eventCh:
			op.deliver(e)
		case <-op.stop:
			// drain what was accepted before Close
			for {
				select {
				case e := <-op.eventCh:
					op.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (op *ObserverPool) deliver(e *Event) {
	for _, obs := range e.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					op.panics.Add(1)
				}
			}()
			obs.OnEvent(*e)
		}()
	}
	op.processed.Add(1)
}

// Close stops accepting events and waits for workers to drain, bounded by ctx.
func (op *ObserverPool) Close(ctx context.Context) error {
	if op.closed.Swap(true) {
		return nil
	}
	close(op.stop)

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrObserverPoolCloseTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		Panics:       op.panics.Load(),
		ActiveEvents: len(op.eventCh),
		Workers:      op.workers,
		BufferSize:   cap(op.eventCh),
	}
}
