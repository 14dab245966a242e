// Package workers runs the long lived loops of a process on a fixed pool
// of goroutines.
package workers

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MinWorkers is the smallest pool size, one per server loop.
const MinWorkers = 3

const queueSize = 64

var ErrClosed = errors.New("Worker pool is closed")

// Job is a unit of work. It must return once ctx is done.
type Job func(ctx context.Context) error

// Pool consumes jobs in FIFO order. The first job returning an error
// cancels the context of every other job.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error

	log *zap.Logger
}

func New(parent context.Context, size int, log *zap.Logger) *Pool {
	if size < MinWorkers {
		size = MinWorkers
	}

	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)

	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan Job, queueSize),
		log:    log,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work(i)
	}

	return p
}

// Context is cancelled when the pool shuts down or a job fails.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit queues job. It blocks while the queue is full.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- job:
		return nil

	case <-p.ctx.Done():
		return ErrClosed
	}
}

// Wait stops accepting jobs, waits for the queued and running ones and
// returns their errors.
func (p *Pool) Wait() error {
	p.closeQueue()
	p.wg.Wait()

	p.errMu.Lock()
	defer p.errMu.Unlock()

	return p.err
}

// Close cancels every job and waits for them.
func (p *Pool) Close() error {
	p.cancel()
	return p.Wait()
}

func (p *Pool) closeQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

func (p *Pool) work(n int) {
	defer p.wg.Done()

	log := p.log.With(zap.Int("worker", n))

	for job := range p.jobs {
		err := job(p.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}

		log.Error("Job failed, stopping the pool", zap.Error(err))

		p.errMu.Lock()
		p.err = multierr.Append(p.err, err)
		p.errMu.Unlock()

		p.cancel()
	}
}
