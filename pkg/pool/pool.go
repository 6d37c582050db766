package pool

import (
	"context"
	"sync"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// New creates a pool with numWorkers goroutines (at least one) and a task queue of taskQueueSize.
func New(numWorkers int, taskQueueSize int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &WorkerPool{tasks: make(chan func(), taskQueueSize)}
	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues task, blocking while the queue is full. It fails only if ctx is done first.
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for queued tasks to finish. It is safe to call twice.
func (p *WorkerPool) Stop() {
	p.once.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

// Map runs fn over items on at most workers goroutines and returns results in input order.
// Items that could not be submitted because ctx ended get onCancel's result.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) R, onCancel func(item T, err error) R) []R {
	out := make([]R, len(items))
	p := New(workers, len(items))
	for i, item := range items {
		i, item := i, item // per-iteration copies; go.mod targets go 1.21 loop semantics
		if err := p.Submit(ctx, func() { out[i] = fn(ctx, item) }); err != nil {
			out[i] = onCancel(item, err)
		}
	}
	p.Stop()
	return out
}
