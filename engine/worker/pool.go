// Package worker provides a bounded worker pool for controlled
// concurrency. Uses github.com/gammazero/workerpool to prevent
// goroutine explosion when the notification dispatcher fans out
// deliveries to merchant callback URLs.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
)

// Pool manages a bounded pool of workers for notification delivery.
type Pool struct {
	wp         *workerpool.WorkerPool
	maxWorkers int

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu      sync.RWMutex
	stopped bool
}

// Config holds worker pool configuration.
type Config struct {
	// MaxWorkers is the maximum number of concurrent workers.
	MaxWorkers int
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *Config {
	return &Config{MaxWorkers: 50}
}

// NewPool creates a new bounded worker pool.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Pool{wp: workerpool.New(cfg.MaxWorkers), maxWorkers: cfg.MaxWorkers}
}

// Handler processes one job.
type Handler func(ctx context.Context) error

// Submit submits a job for async processing. Returns immediately;
// the result is delivered via callback.
func (p *Pool) Submit(ctx context.Context, handler Handler, callback func(error)) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	p.mu.RUnlock()

	p.submitted.Add(1)

	p.wp.Submit(func() {
		if ctx.Err() != nil {
			p.failed.Add(1)
			if callback != nil {
				callback(ctx.Err())
			}
			return
		}

		err := handler(ctx)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if callback != nil {
			callback(err)
		}
	})

	return nil
}

// Stop gracefully shuts down the worker pool, waiting for pending jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wp.StopWait()
}

// StopNow immediately stops the pool without waiting.
func (p *Pool) StopNow() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wp.Stop()
}

// Stats reports current pool counters.
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Pending    int64 `json:"pending"`
}

func (p *Pool) Stats() Stats {
	submitted := p.submitted.Load()
	completed := p.completed.Load()
	failed := p.failed.Load()
	return Stats{
		MaxWorkers: p.maxWorkers,
		Submitted:  submitted,
		Completed:  completed,
		Failed:     failed,
		Pending:    submitted - completed - failed,
	}
}

// ErrPoolStopped is returned by Submit after Stop/StopNow.
var ErrPoolStopped = &PoolError{msg: "worker pool is stopped"}

type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }
