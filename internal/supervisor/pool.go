package supervisor

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klask-io/klask-core/internal/metrics"
)

// task is one queued crawl run: a closure the pool invokes on a worker
// goroutine once a slot is free. Unlike the teacher's worker pool, which
// queues one task per file fetch, a task here is an entire repository crawl
// — the unit of concurrency spec.md §5 bounds is "how many repositories
// crawl in parallel", not how many files within one crawl.
type task func(ctx context.Context)

// Pool bounds the number of crawls running concurrently and, optionally,
// pauses dispatch under memory pressure — the same shape as the teacher's
// EnhancedPool, retargeted from GitHub fetch throughput to the batch
// indexer's bulk-write throughput: a backend producing FileRecords faster
// than Elasticsearch can absorb them is the same "producer outruns drain"
// problem the teacher solved for GitHub's per-file rate limit.
type Pool struct {
	metrics *metrics.Metrics
	size    int

	taskChan chan task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	memoryLimitPercent float64
	enableMonitor      bool
	paused             atomic.Bool
	pauseChan          chan struct{}
	monitorStop        chan struct{}
	monitorWg          sync.WaitGroup
}

// NewPool builds a Pool with size worker goroutines and a task buffer of
// bufferSize. The memory monitor only runs when enableMonitor is true and
// memoryLimitPercent is positive.
func NewPool(m *metrics.Metrics, size, bufferSize int, memoryLimitPercent float64, enableMonitor bool) *Pool {
	if size <= 0 {
		size = 1
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Pool{
		metrics:            m,
		size:               size,
		taskChan:           make(chan task, bufferSize),
		memoryLimitPercent: memoryLimitPercent,
		enableMonitor:      enableMonitor && memoryLimitPercent > 0,
		pauseChan:          make(chan struct{}),
		monitorStop:        make(chan struct{}),
	}
}

// Start launches the worker goroutines and, if enabled, the memory monitor.
// ctx governs the whole pool's lifetime; Stop also cancels it.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker pool already running")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if p.metrics != nil {
		p.metrics.SetWorkerPoolSize(float64(p.size))
	}

	if p.enableMonitor {
		p.monitorWg.Add(1)
		go p.monitorMemory()
	}
	return nil
}

// Stop cancels every worker context, waits for in-flight tasks to observe
// cancellation and exit, and stops the memory monitor. Queued-but-not-yet-
// started tasks never run.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	if p.enableMonitor {
		close(p.monitorStop)
		p.monitorWg.Wait()
	}
	p.wg.Wait()
	if p.metrics != nil {
		p.metrics.SetWorkerPoolSize(0)
		p.metrics.SetQueueDepth(0)
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Submit queues t, blocking until a buffer slot frees, a pause clears, or
// ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, t task) error {
	for {
		if p.paused.Load() {
			select {
			case <-p.pauseChan:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case p.taskChan <- t:
			if p.metrics != nil {
				p.metrics.SetQueueDepth(float64(len(p.taskChan)))
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// QueueDepth returns the number of tasks currently buffered.
func (p *Pool) QueueDepth() int {
	return len(p.taskChan)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-p.taskChan:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				return
			}
			if p.metrics != nil {
				p.metrics.SetQueueDepth(float64(len(p.taskChan)))
			}
			t(p.ctx)
		case <-p.ctx.Done():
			return
		}
	}
}

// monitorMemory pauses task dispatch once heap usage exceeds 90% of the
// configured limit and resumes once it falls back under 70%, the same
// high/low watermark pair the teacher's EnhancedPool uses, forcing a GC on
// the way into pressure.
func (p *Pool) monitorMemory() {
	defer p.monitorWg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var stats runtime.MemStats
	for {
		select {
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			limit := float64(stats.Sys) * p.memoryLimitPercent
			used := float64(stats.Alloc)

			if used > limit*0.9 {
				if p.paused.CompareAndSwap(false, true) {
					runtime.GC()
					log.Printf("supervisor: memory pressure detected, pausing dispatch (%d MB / %d MB limit)", int64(used)/1024/1024, int64(limit)/1024/1024)
				}
			} else if used < limit*0.7 {
				if p.paused.CompareAndSwap(true, false) {
					close(p.pauseChan)
					p.pauseChan = make(chan struct{})
					log.Printf("supervisor: memory pressure relieved, resuming dispatch")
				}
			}
		case <-p.monitorStop:
			return
		}
	}
}
