package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION QUEUE
// Bounded channel drained by a fixed worker pool. Enqueue never blocks the
// caller: when the buffer is full the job is dropped, because a later trigger
// re-evaluates the same user anyway.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationJob is one queued evaluation run.
type EvaluationJob struct {
	UserID     int64
	Trigger    achievement.Trigger
	RunID      string
	EnqueuedAt time.Time
}

// EvaluationRunner executes a run. It must not return errors; failures are
// its own business to log.
type EvaluationRunner interface {
	RunEvaluation(ctx context.Context, userID int64, trigger achievement.Trigger, runID string)
}

// EvaluationQueueConfig contains configuration for EvaluationQueue.
type EvaluationQueueConfig struct {
	// Workers is the number of concurrent runs.
	Workers int

	// QueueSize is the channel buffer.
	QueueSize int

	// JobTimeout bounds one run. Zero means no limit.
	JobTimeout time.Duration

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultEvaluationQueueConfig returns sensible defaults.
func DefaultEvaluationQueueConfig() EvaluationQueueConfig {
	return EvaluationQueueConfig{
		Workers:    4,
		QueueSize:  1000,
		JobTimeout: 30 * time.Second,
	}
}

// EvaluationQueue implements command.EvaluationEnqueuer.
type EvaluationQueue struct {
	runner     EvaluationRunner
	jobs       chan EvaluationJob
	workers    int
	jobTimeout time.Duration
	logger     *logger.Logger
	newRunID   func() string

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	enqueued  atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
}

// NewEvaluationQueue creates a queue. Call Start to launch the workers.
func NewEvaluationQueue(runner EvaluationRunner, config EvaluationQueueConfig) *EvaluationQueue {
	defaults := DefaultEvaluationQueueConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	return &EvaluationQueue{
		runner:     runner,
		jobs:       make(chan EvaluationJob, config.QueueSize),
		workers:    config.Workers,
		jobTimeout: config.JobTimeout,
		logger:     config.Logger.With(logger.Component("evaluation_queue")),
		newRunID:   uuid.NewString,
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled or
// after Stop has drained the queue.
func (q *EvaluationQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return errors.New("evaluation queue already started")
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("evaluation queue started",
		logger.Int("workers", q.workers),
		logger.Int("capacity", cap(q.jobs)),
	)
	return nil
}

// Enqueue schedules a run for the user and returns immediately.
func (q *EvaluationQueue) Enqueue(userID int64, trigger achievement.Trigger) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	job := EvaluationJob{
		UserID:     userID,
		Trigger:    trigger,
		RunID:      q.newRunID(),
		EnqueuedAt: time.Now(),
	}
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Warn("evaluation queue full, dropping run",
			logger.UserID(userID),
			logger.Trigger(string(trigger)),
			logger.Int("capacity", cap(q.jobs)),
		)
		return shared.ErrEvaluationQueueFull
	}
}

// Stop rejects new jobs and waits until queued jobs are processed or ctx
// expires, in which case the remaining runs are cancelled.
func (q *EvaluationQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("evaluation queue drained", logger.Int64("processed", q.processed.Load()))
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("evaluation queue: drain interrupted: %w", ctx.Err())
	}
}

// Len returns the number of waiting jobs.
func (q *EvaluationQueue) Len() int {
	return len(q.jobs)
}

// QueueStats is a point-in-time view of the queue counters.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Enqueued  int64 `json:"enqueued"`
	Dropped   int64 `json:"dropped"`
	Processed int64 `json:"processed"`
}

// Stats returns the queue counters.
func (q *EvaluationQueue) Stats() QueueStats {
	return QueueStats{
		Pending:   q.Len(),
		Enqueued:  q.enqueued.Load(),
		Dropped:   q.dropped.Load(),
		Processed: q.processed.Load(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WORKERS
// ══════════════════════════════════════════════════════════════════════════════

func (q *EvaluationQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, id, job)
		}
	}
}

func (q *EvaluationQueue) run(ctx context.Context, worker int, job EvaluationJob) {
	defer q.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("evaluation job panicked",
				logger.UserID(job.UserID),
				logger.RunID(job.RunID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
		}
	}()

	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	q.logger.Debug("evaluation job started",
		logger.UserID(job.UserID),
		logger.Trigger(string(job.Trigger)),
		logger.RunID(job.RunID),
		logger.Int("worker", worker),
		logger.Duration("waited", time.Since(job.EnqueuedAt)),
	)
	q.runner.RunEvaluation(ctx, job.UserID, job.Trigger, job.RunID)
}

// ErrQueueClosed is returned after Stop.
var ErrQueueClosed = errors.New("evaluation queue is closed")
