// Package workerpool provides a bounded pool for fanning out
// independent analysis steps, such as verifying each medicine in a
// prescription concurrently, without letting a single request spawn an
// unbounded number of goroutines.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool is stopped")

// Task is a unit of work. The context passed to the task is the one it
// was submitted with; tasks are skipped when that context has expired
// before a worker picks them up.
type Task func(ctx context.Context)

// Config holds pool sizing.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize is the capacity of the pending-task queue.
	QueueSize int
	// ShutdownTimeout bounds how long Stop waits for in-flight tasks.
	ShutdownTimeout time.Duration
}

// DefaultConfig sizes the pool for per-medicine verification work:
// requests carry a handful of medicines each, not thousands.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		QueueSize:       64,
		ShutdownTimeout: 10 * time.Second,
	}
}

type queued struct {
	ctx context.Context
	fn  Task
}

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	config Config
	logger *zap.Logger

	tasks chan queued
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	skipped   int64
	active    int64
}

// New creates a pool. Call Start before submitting.
func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: cfg,
		logger: logger,
		tasks:  make(chan queued, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues fn, blocking while the queue is full. It fails when
// the pool has been stopped or ctx expires before the task is accepted.
// Callers that need the task's outcome coordinate through fn itself.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errors.New("nil task")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- queued{ctx: ctx, fn: fn}:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	}
}

// Stop shuts the pool down, waiting up to ShutdownTimeout for running
// tasks to finish. Pending tasks that have not started are still
// drained by the workers before they exit.
func (p *Pool) Stop() {
	p.cancel()
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.Duration("timeout", p.config.ShutdownTimeout))
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for q := range p.tasks {
		if q.ctx != nil && q.ctx.Err() != nil {
			atomic.AddInt64(&p.skipped, 1)
			continue
		}
		atomic.AddInt64(&p.active, 1)
		p.run(id, q)
		atomic.AddInt64(&p.active, -1)
		atomic.AddInt64(&p.completed, 1)
	}
}

func (p *Pool) run(id int, q queued) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic",
				zap.Int("worker_id", id),
				zap.Any("panic", r))
		}
	}()
	ctx := q.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	q.fn(ctx)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Skipped   int64
	Active    int64
	Queued    int
	Workers   int
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Skipped:   atomic.LoadInt64(&p.skipped),
		Active:    atomic.LoadInt64(&p.active),
		Queued:    len(p.tasks),
		Workers:   p.config.Workers,
	}
}

// IsHealthy reports whether the queue has headroom.
func (p *Pool) IsHealthy() bool {
	return len(p.tasks) < p.config.QueueSize
}
