package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// Job is a unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs enqueued jobs on a bounded worker pool. Enqueue never blocks.
type Queue struct {
	jobs        chan Job
	concurrency int
	log         *zap.Logger
	running     atomic.Bool
}

func NewQueue(cfg Config, log *zap.Logger) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		jobs:        make(chan Job, cfg.QueueSize),
		concurrency: cfg.Concurrency,
		log:         log.Named("scheduler.queue"),
	}
}

// Enqueue hands job to the pool. It reports false when the buffer is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Len is the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Run executes jobs until ctx is done, then waits for in-flight jobs.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return nil
	}
	defer q.running.Store(false)

	var g errgroup.Group
	g.SetLimit(q.concurrency)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case job := <-q.jobs:
			g.Go(func() error {
				if err := job.Run(ctx); err != nil {
					q.log.Warn("background job failed", zap.String("job", job.Name), zap.Error(err))
				}
				return nil
			})
		}
	}
}
