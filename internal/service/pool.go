package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Task is a unit of work run by a Pool. The context is cancelled only when
// the pool is closed with an expired deadline.
type Task func(ctx context.Context)

// Pool is a fixed set of workers fed by a bounded queue. Submit never blocks:
// once every worker is busy and the queue is full it fails with ErrSaturated.
type Pool struct {
	name    string
	workers int
	queue   chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	busy atomic.Int64
}

// NewPool starts workers goroutines draining a queue of the given depth.
func NewPool(name string, workers, depth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		workers: workers,
		queue:   make(chan Task, depth),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	log.Info().Str("pool", name).Int("workers", workers).Int("queue_depth", depth).Msg("worker pool started")
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("pool", p.name).Interface("panic", r).Msg("task panicked")
		}
	}()
	t(p.ctx)
}

// Submit enqueues t without waiting. It returns ErrSaturated when the queue is
// full or the pool is closed.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrSaturated.Wrap(fmt.Errorf("pool %s closed", p.name))
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrSaturated
	}
}

// Close stops admission and waits for queued tasks to finish. If ctx expires
// first, running tasks see their context cancelled and Close returns ctx.Err().
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Name returns the pool label used in logs and metrics.
func (p *Pool) Name() string { return p.name }

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int { return len(p.queue) }

// Busy returns the number of workers currently running a task.
func (p *Pool) Busy() int64 { return p.busy.Load() }

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.workers }
