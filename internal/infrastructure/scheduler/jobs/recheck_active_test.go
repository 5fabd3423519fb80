package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

type staticUsers struct {
	ids   []int64
	since time.Time
	err   error
}

func (s *staticUsers) ActiveUserIDs(_ context.Context, since time.Time) ([]int64, error) {
	s.since = since
	return s.ids, s.err
}

type fakeQueue struct {
	fullFor map[int64]int
	got     []int64
	trigger achievement.Trigger
}

func (q *fakeQueue) Enqueue(userID int64, trigger achievement.Trigger) error {
	if q.fullFor[userID] > 0 {
		q.fullFor[userID]--
		return shared.ErrEvaluationQueueFull
	}
	q.got = append(q.got, userID)
	q.trigger = trigger
	return nil
}

func TestRecheckActiveJob_EnqueuesAllTrigger(t *testing.T) {
	users := &staticUsers{ids: []int64{3, 5, 8}}
	queue := &fakeQueue{fullFor: map[int64]int{5: 2}}
	job := NewRecheckActiveJob(users, queue, logger.Nop(), RecheckActiveConfig{Window: time.Hour})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	stats, err := job.Recheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecheckStats{ActiveUsers: 3, Enqueued: 3}, stats)
	assert.Equal(t, []int64{3, 5, 8}, queue.got)
	assert.Equal(t, achievement.TriggerAll, queue.trigger)
	assert.Equal(t, now.Add(-time.Hour), users.since)
	assert.Equal(t, "recheck_active_users", job.Name())
}

func TestRecheckActiveJob_SkipsWhenQueueStaysFull(t *testing.T) {
	queue := &fakeQueue{fullFor: map[int64]int{1: 1000}}
	job := NewRecheckActiveJob(&staticUsers{ids: []int64{1, 2}}, queue, logger.Nop(),
		RecheckActiveConfig{EnqueueWait: 100 * time.Millisecond})

	stats, err := job.Recheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []int64{2}, queue.got)
}

func TestRecheckActiveJob_SourceError(t *testing.T) {
	job := NewRecheckActiveJob(&staticUsers{err: errors.New("db down")}, &fakeQueue{}, logger.Nop(), RecheckActiveConfig{})
	assert.Error(t, job.Run(context.Background()))
}
