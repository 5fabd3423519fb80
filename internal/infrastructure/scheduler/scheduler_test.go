package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/pkg/logger"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func newTestScheduler() *Scheduler {
	return NewScheduler(SchedulerConfig{Logger: logger.Nop(), TickInterval: 5 * time.Millisecond})
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 7, 30, 0, time.UTC) // Friday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2024, 3, 15, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"8,5 10 * * *", time.Date(2024, 3, 15, 10, 8, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(base))
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestParseCronExpression_Errors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "61 * * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *", "* * * * 7"} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 6h")
	require.NoError(t, err)
	assert.Equal(t, "@every 6h0m0s", s.String())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(6*time.Hour), s.Next(now))

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s.Next(now))

	_, err = ParseSchedule("@every -1s")
	assert.Error(t, err)
	_, err = ParseSchedule("")
	assert.Error(t, err)
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")

	require.NoError(t, s.Register(funcJob{name: "ok", run: func(context.Context) error { return nil }}, Every(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "bad", run: func(context.Context) error { return boom }}, Every(time.Hour)))
	assert.ErrorIs(t, s.Register(funcJob{name: "ok"}, Every(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Hour)), ErrNilJob)

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "bad", jobs[0].Name)
	assert.Equal(t, int64(1), jobs[0].FailCount)

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalFailures)
	assert.Len(t, s.History(0), 2)
}

func TestScheduler_RunsDueJobsWithoutOverlap(t *testing.T) {
	s := newTestScheduler()

	var runs, concurrent, maxConcurrent atomic.Int32
	job := funcJob{name: "tick", run: func(ctx context.Context) error {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			cur := maxConcurrent.Load()
			if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
				break
			}
		}
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), maxConcurrent.Load())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(funcJob{name: "panics", run: func(context.Context) error { panic("bad") }}, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "panics")
	require.Error(t, err)
	assert.False(t, res.Success)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s := newTestScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Register(funcJob{name: "off", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, Every(time.Millisecond)))
	require.NoError(t, s.SetEnabled("off", false))
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Zero(t, runs.Load())
}
