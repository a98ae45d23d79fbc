package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klask-io/klask-core/internal/metrics"
)

func TestPoolRunsTasksConcurrentlyUpToSize(t *testing.T) {
	p := NewPool(metrics.NewForTesting(), 2, 10, 0, false)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	var running int32
	var maxRunning int32
	var wg sync.WaitGroup
	wg.Add(4)

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxRunning)
				if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}

	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestPoolStopCancelsRunningTasks(t *testing.T) {
	p := NewPool(metrics.NewForTesting(), 1, 10, 0, false)
	require.NoError(t, p.Start(context.Background()))

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))

	<-started
	p.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task did not observe pool cancellation")
	}
}

func TestPoolStartTwiceFails(t *testing.T) {
	p := NewPool(metrics.NewForTesting(), 1, 10, 0, false)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Error(t, p.Start(context.Background()))
}

func TestPoolSubmitRespectsContextCancellation(t *testing.T) {
	p := NewPool(metrics.NewForTesting(), 1, 1, 0, false)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	// Occupy the single worker and fill the one-slot buffer so the next
	// submit has to block.
	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		<-block
	}))
	defer close(block)
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
