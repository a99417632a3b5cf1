package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingRotator struct {
	calls atomic.Int32
}

func (c *countingRotator) Rotate(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestSchedulerRunsIntervalTask(t *testing.T) {
	target := &countingRotator{}
	sched := New()
	sched.pollInterval = 10 * time.Millisecond

	require.NoError(t, sched.Register(&RotationTask{
		Name:       "compact",
		Target:     target,
		Type:       ScheduleTypeInterval,
		Expression: "1s",
	}))

	// Force immediate due-ness for the test instead of waiting out a real
	// 1s interval.
	sched.mu.Lock()
	sched.tasks["compact"].next = time.Now().Add(-time.Millisecond)
	sched.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	defer func() {
		cancel()
		sched.Stop()
	}()

	require.Eventually(t, func() bool {
		return target.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestParseIntervalRejectsSubSecond(t *testing.T) {
	_, err := parseInterval("500ms")
	require.Error(t, err)
}

func TestNextRunCron(t *testing.T) {
	task := &RotationTask{Type: ScheduleTypeCron, Expression: "@every 1m"}
	next, err := nextRun(task, time.Now())
	require.NoError(t, err)
	require.True(t, next.After(time.Now()))
}
