// Package jobs contains the scheduled jobs of the achievement engine.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
	"github.com/dnflvus-wq/engTest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECHECK ACTIVE USERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ActiveUserSource lists users with recent activity.
type ActiveUserSource interface {
	ActiveUserIDs(ctx context.Context, since time.Time) ([]int64, error)
}

// Enqueuer accepts evaluation jobs without blocking.
type Enqueuer interface {
	Enqueue(userID int64, trigger achievement.Trigger) error
}

// RecheckActiveConfig contains configuration for the recheck job.
type RecheckActiveConfig struct {
	// Window is how far back activity counts.
	Window time.Duration

	// EnqueueWait bounds how long one user waits for queue space before
	// being skipped.
	EnqueueWait time.Duration
}

// DefaultRecheckActiveConfig returns sensible defaults.
func DefaultRecheckActiveConfig() RecheckActiveConfig {
	return RecheckActiveConfig{
		Window:      24 * time.Hour,
		EnqueueWait: 2 * time.Second,
	}
}

// RecheckStats describes one run.
type RecheckStats struct {
	ActiveUsers int
	Enqueued    int
	Skipped     int
}

// RecheckActiveJob re-evaluates every catalog entry (trigger ALL) for users
// active within the window. It catches unlocks whose trigger was dropped.
type RecheckActiveJob struct {
	users  ActiveUserSource
	queue  Enqueuer
	logger *logger.Logger
	config RecheckActiveConfig
	now    func() time.Time
}

// NewRecheckActiveJob creates the job.
func NewRecheckActiveJob(users ActiveUserSource, queue Enqueuer, log *logger.Logger, config RecheckActiveConfig) *RecheckActiveJob {
	if log == nil {
		log = logger.Default()
	}
	defaults := DefaultRecheckActiveConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.EnqueueWait <= 0 {
		config.EnqueueWait = defaults.EnqueueWait
	}
	return &RecheckActiveJob{
		users:  users,
		queue:  queue,
		logger: log.With(logger.Component("recheck_active_users")),
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the job name.
func (j *RecheckActiveJob) Name() string {
	return "recheck_active_users"
}

// Description returns a human-readable description.
func (j *RecheckActiveJob) Description() string {
	return "Re-evaluates all achievements for recently active users"
}

// Run executes the job.
func (j *RecheckActiveJob) Run(ctx context.Context) error {
	_, err := j.Recheck(ctx)
	return err
}

// Recheck enqueues an ALL evaluation per active user. A user whose job
// still finds the queue full after EnqueueWait is skipped.
func (j *RecheckActiveJob) Recheck(ctx context.Context) (RecheckStats, error) {
	var stats RecheckStats

	since := j.now().Add(-j.config.Window)
	ids, err := j.users.ActiveUserIDs(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("failed to list active users: %w", err)
	}
	stats.ActiveUsers = len(ids)

	retrier := retry.QueueRetrier(j.config.EnqueueWait, shared.ErrEvaluationQueueFull)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		err := retrier.Do(ctx, func(context.Context) error {
			return j.queue.Enqueue(id, achievement.TriggerAll)
		})
		if err != nil {
			stats.Skipped++
			j.logger.Warn("recheck skipped user", logger.UserID(id), logger.Err(err))
			continue
		}
		stats.Enqueued++
	}

	j.logger.Info("recheck enqueued",
		logger.Int("active_users", stats.ActiveUsers),
		logger.Int("enqueued", stats.Enqueued),
		logger.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
