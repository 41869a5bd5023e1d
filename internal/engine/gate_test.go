package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AcquireRelease(t *testing.T) {
	g := NewGate(2)

	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
	g.Release()

	m := g.Metrics()
	assert.Equal(t, int64(0), m.Active)
	assert.Equal(t, int64(2), m.Peak)
	assert.Equal(t, int64(2), m.Total)
}

func TestGate_BoundsConcurrency(t *testing.T) {
	g := NewGate(3)

	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			defer g.Release()

			cur := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, int64(20), g.Metrics().Total)
}

func TestGate_AcquireCanceledContext(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_AcquireAfterClose(t *testing.T) {
	g := NewGate(1)
	g.Close()

	err := g.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestGate_CloseUnblocksWaiters(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		err := g.Acquire(context.Background())
		if err == nil {
			g.Release()
		}
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	g.Release()
	g.Close()

	select {
	case err := <-errCh:
		// The waiter either got the released slot before Close or was
		// rejected by it; it must not hang.
		if err != nil {
			assert.ErrorIs(t, err, ErrGateClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked")
	}
}

func TestGate_CloseIdempotent(t *testing.T) {
	g := NewGate(2)
	g.Close()
	g.Close()
}

func TestGate_MinimumSizeOne(t *testing.T) {
	g := NewGate(0)
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
}
