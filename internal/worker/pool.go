package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"payments-gateway/internal/metrics"
)

// Task is a unit of work run by the pool.
type Task func()

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	wg       sync.WaitGroup
	jobs     chan Task
	quit     chan struct{}
	logger   *slog.Logger
	pending  atomic.Int64
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

func NewPool(n int, logger *slog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{jobs: make(chan Task, 1024), quit: make(chan struct{}), logger: logger}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(job)
			}
		}()
	}
	return p
}

func (p *Pool) run(job Task) {
	defer func() {
		metrics.WorkerQueueDepth.Set(float64(p.pending.Add(-1)))
		if r := recover(); r != nil {
			p.logger.Error("Worker task panicked", "panic", r)
		}
	}()
	job()
}

// Submit queues f. It returns false once the pool is stopping. Submit is safe
// to call concurrently with Stop and from inside a running task.
func (p *Pool) Submit(f Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	metrics.WorkerQueueDepth.Set(float64(p.pending.Add(1)))
	select {
	case p.jobs <- f:
		return true
	case <-p.quit:
		metrics.WorkerQueueDepth.Set(float64(p.pending.Add(-1)))
		return false
	}
}

// Stop refuses new tasks and waits for the queued ones to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		// Release submitters blocked on a full queue before taking the write lock.
		close(p.quit)

		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
