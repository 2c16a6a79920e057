// Package worker executes queued export jobs: a fixed pool of goroutines
// pulls job ids off a channel, claims each job by compare-and-set, and
// drives it through the PROCESSING state machine.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"

	"log/slog"

	"github.com/google/uuid"
)

// Queue fans accepted job ids out to the worker pool.
type Queue struct {
	runner  *Runner
	logger  *slog.Logger
	workers int

	ch   chan uuid.UUID
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan uuid.UUID, n)
		}
	}
}

func NewQueue(runner *Runner, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		runner:  runner,
		logger:  logger,
		workers: 2,
		ch:      make(chan uuid.UUID, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		host, _ := os.Hostname()
		for i := 0; i < q.workers; i++ {
			workerID := fmt.Sprintf("%s-w%d", host, i+1)
			q.wg.Add(1)
			go func(workerID string) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for jobID := range q.ch {
					q.runner.Process(context.Background(), workerID, jobID)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(workerID)
		}
	})
}

// Enqueue hands a job id to the pool. The job row is already durable;
// startup resume covers ids dropped during shutdown.
func (q *Queue) Enqueue(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", jobID)
		return nil
	}
	select {
	case q.ch <- jobID:
		q.logger.Info("queued export job", "job_id", jobID)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", jobID)
		q.ch <- jobID
	}
	return nil
}

// ResumeQueued re-enqueues every QUEUED row, oldest first. Called once at
// startup so a restart never strands accepted jobs.
func (q *Queue) ResumeQueued(ctx context.Context) error {
	ids, err := q.runner.jobs.ListQueued(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := q.Enqueue(ctx, id); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		q.logger.Info("resumed queued jobs", "count", len(ids))
	}
	return nil
}

// Shutdown stops accepting work and drains in-flight jobs, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
