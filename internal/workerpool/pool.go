// Package workerpool runs collection passes, batches and folder lookups off
// the interaction loop on a fixed set of goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work. ctx is the pool's lifetime context and is
// cancelled once the pool has drained.
type Task func(ctx context.Context)

type job struct {
	name string
	run  Task
}

// Pool is a bounded queue in front of a fixed number of workers.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	queue  chan job

	workers sync.WaitGroup
}

// New starts maxWorkers goroutines behind a queue of queueSize. Both are
// raised to 1 when smaller.
func New(maxWorkers, queueSize int) *Pool {
	maxWorkers, queueSize = max(maxWorkers, 1), max(queueSize, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, queue: make(chan job, queueSize)}
	p.workers.Add(maxWorkers)
	for range maxWorkers {
		go p.work()
	}
	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Context is the context every task receives.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit queues task under name, which only appears in logs. It returns
// false once the pool is closed or while the queue is full; it never blocks.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job{name: name, run: task}:
		return true
	default:
		log.Warn("worker pool queue full, task rejected", "task", name)
		return false
	}
}

// StopAccepting closes the queue. Tasks already queued still run.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// Drain stops intake and waits for queued and running tasks, bounded by
// ctx. The pool context is cancelled on return either way.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", logging.KeyError, ctx.Err().Error())
	}
	p.cancel()
}

// Shutdown is Drain; it exists so owners read as they do for other
// components with a lifetime.
func (p *Pool) Shutdown(ctx context.Context) {
	p.Drain(ctx)
}

func (p *Pool) work() {
	defer p.workers.Done()
	for j := range p.queue {
		p.run(j)
	}
}

// run isolates one task so a panic costs the task, not the worker.
func (p *Pool) run(j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "task", j.name, "panic", r, "stack", string(debug.Stack()))
			return
		}
		log.Debug("task finished", "task", j.name, logging.KeyDurationMs, time.Since(start).Milliseconds())
	}()
	j.run(p.ctx)
}
