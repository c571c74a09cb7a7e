package game

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
)

// WorkerPool runs LLM generation tasks on a fixed set of goroutines so that
// orchestrator operations never wait on provider latency. Process-wide: one
// pool serves every room.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	// mu serializes submits against shutdown: senders hold it in read mode so
	// the channel can never close mid-send.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts size workers. Submitted tasks queue up to 4x the worker
// count before Submit blocks.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		tasks: make(chan func(), size*4),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
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

// Submit queues a task. Returns false if the pool is shut down or the context
// expires before the task can be queued.
func (p *WorkerPool) Submit(ctx context.Context, task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		logging.Warn(ctx, "Worker pool submit cancelled", zap.Error(ctx.Err()))
		return false
	}
}

// Shutdown stops accepting tasks and waits for in-flight work to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
