package media

import (
	"context"
	"log/slog"
	"sync"
)

// PoolConfig controls the concurrency characteristics of the transcode pool.
type PoolConfig struct {
	QueueSize int
	Workers   int
}

// Pool runs CPU-bound media jobs on a fixed set of workers so that event
// handlers never transcode on their own goroutines without bound.
type Pool struct {
	logger *slog.Logger

	jobs   chan poolJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type poolJob struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// NewPool starts the worker goroutines.
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		logger: logger,
		jobs:   make(chan poolJob, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

// Do schedules fn and waits for it to finish. fn receives ctx and is expected
// to return promptly once ctx is done; Do always waits for fn so that any
// files it creates are accounted for by the caller.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	job := poolJob{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	case p.jobs <- job:
	}

	select {
	case err := <-job.done:
		return err
	case <-p.ctx.Done():
		// Workers either finish the job or drain it; a job queued after the
		// drain never runs.
		p.wg.Wait()
		select {
		case err := <-job.done:
			return err
		default:
			return ErrPoolClosed
		}
	}
}

// Shutdown stops accepting work and waits for queued jobs to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.cancel()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

// drain fails jobs that were queued before shutdown so their callers unblock.
func (p *Pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			job.done <- ErrPoolClosed
		default:
			return
		}
	}
}

func (p *Pool) run(job poolJob) {
	if err := job.ctx.Err(); err != nil {
		job.done <- err
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("media job panicked", "panic", rec)
			job.done <- ErrProcessing
		}
	}()
	job.done <- job.fn(job.ctx)
}
