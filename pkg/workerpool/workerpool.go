package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andrej220/provisioner/internal/lg"
)

const TotalMaxWorkers = 10

var ErrPoolStopped = errors.New("worker pool is shutting down")

type JobFunc[T any] func(ctx context.Context, payload T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs submitted jobs with at most maxWorkers in flight. Jobs are
// independent; a failing job does not affect the others.
type Pool[T any] struct {
	Jobs          chan Job[T]
	activeWorkers int32
	slots         chan struct{}
	wg            sync.WaitGroup
	quit          chan struct{}
	stopOnce      sync.Once
	maxWorkers    int
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	pool := &Pool[T]{
		Jobs:       make(chan Job[T], maxWorkers),
		slots:      make(chan struct{}, maxWorkers),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
	}
	go pool.dispatch()
	return pool
}

// Stop rejects new jobs and waits for running ones. Jobs still queued are
// dropped after their cleanup runs.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case job := <-p.Jobs:
				if job.CleanupFunc != nil {
					job.CleanupFunc()
				}
			default:
				return
			}
		}
	})
}

// Submit blocks until the job is queued, ctx is done or the pool stops.
func (p *Pool[T]) Submit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	logger := lg.FromContext(job.Ctx)
	select {
	case <-p.quit:
		logger.Info("worker pool is shutting down, job rejected")
		return ErrPoolStopped
	default:
	}
	select {
	case p.Jobs <- job:
		logger.Debug("job submitted")
		return nil
	case <-job.Ctx.Done():
		return job.Ctx.Err()
	case <-p.quit:
		logger.Info("worker pool is shutting down, job rejected")
		return ErrPoolStopped
	}
}

func (p *Pool[T]) dispatch() {
	for {
		select {
		case p.slots <- struct{}{}:
		case <-p.quit:
			return
		}
		select {
		case job := <-p.Jobs:
			p.wg.Add(1)
			atomic.AddInt32(&p.activeWorkers, 1)
			go p.worker(job)
		case <-p.quit:
			<-p.slots
			return
		}
	}
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()

	logger := lg.FromContext(job.Ctx)
	logger.Debug("worker started", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))

	if err := job.Ctx.Err(); err != nil {
		logger.Info("job canceled before start", lg.Err(err))
		return
	}
	if err := job.Fn(job.Ctx, job.Payload); err != nil {
		logger.Error("job failed", lg.Err(err))
		return
	}
	logger.Debug("worker finished", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
