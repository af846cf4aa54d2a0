package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Job is work executed by the pool.
type Job interface {
	Execute(ctx context.Context)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context)

func (f JobFunc) Execute(ctx context.Context) { f(ctx) }

// WorkerPool runs jobs on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	jobs    chan Job
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func NewWorkerPool(workers int, log zerolog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		jobs:    make(chan Job, workers),
		log:     log.With().Str("component", "worker-pool").Logger(),
	}
}

// Start starts the workers. Jobs receive jobCtx; ctx only stops the workers
// from taking new jobs.
func (wp *WorkerPool) Start(ctx, jobCtx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, jobCtx, i)
	}

	wp.log.Info().Int("workers", wp.workers).Msg("Worker pool started")
}

// Stop closes the queue and waits for running jobs. No Submit may follow.
func (wp *WorkerPool) Stop() {
	close(wp.jobs)
	wp.wg.Wait()
	wp.log.Info().Msg("Worker pool stopped")
}

// Submit queues job, blocking while every worker is busy.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wp *WorkerPool) worker(ctx, jobCtx context.Context, id int) {
	defer wp.wg.Done()

	log := wp.log.With().Int("worker_id", id).Logger()
	log.Debug().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			job.Execute(jobCtx)
		}
	}
}
