package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// GateMetrics tracks concurrency gate usage.
type GateMetrics struct {
	Active int64 `json:"active"`
	Peak   int64 `json:"peak"`
	Total  int64 `json:"total"`
}

// ErrGateClosed is returned when a slot is requested from a closed gate.
var ErrGateClosed = errors.New("concurrency gate is closed")

// Gate is the per-execution counting concurrency gate. Task units acquire a
// slot before running and release it unconditionally in their cleanup path.
type Gate struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	active atomic.Int64
	peak   atomic.Int64
	total  atomic.Int64
}

// NewGate creates a gate with the given max concurrency.
func NewGate(size int) *Gate {
	if size <= 0 {
		size = 1
	}
	return &Gate{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Acquire blocks until a slot is free, the context is canceled, or the gate
// is closed.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGateClosed
	}
	g.mu.Unlock()

	select {
	case g.sem <- struct{}{}:
		// Slot acquired.
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrGateClosed
	}

	// Re-check closed after acquiring the slot, in case Close raced.
	// wg.Add(1) MUST be inside the lock to prevent race with Close's wg.Wait().
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		<-g.sem // release slot
		return ErrGateClosed
	}
	g.wg.Add(1)
	g.mu.Unlock()

	active := g.active.Add(1)
	g.total.Add(1)
	for {
		peak := g.peak.Load()
		if active <= peak || g.peak.CompareAndSwap(peak, active) {
			break
		}
	}
	return nil
}

// Release frees a slot acquired by Acquire.
func (g *Gate) Release() {
	g.active.Add(-1)
	<-g.sem
	g.wg.Done()
}

// Wait blocks until all acquired slots are released.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// Close prevents new acquisitions and waits for active holders to release.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.done)
	g.mu.Unlock()

	g.wg.Wait()
}

// Metrics returns a snapshot of the gate counters.
func (g *Gate) Metrics() GateMetrics {
	return GateMetrics{
		Active: g.active.Load(),
		Peak:   g.peak.Load(),
		Total:  g.total.Load(),
	}
}
