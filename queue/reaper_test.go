package queue

import (
	"context"
	"testing"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapOnce_RecoversAbandonedJob(t *testing.T) {
	manager, _ := newTestManager(t, Config{
		JobTimeout:  time.Minute,
		ReapTimeout: 2 * time.Minute,
		BackoffBase: time.Nanosecond,
		BackoffCap:  time.Nanosecond,
	})
	ctx := context.Background()

	job, _, err := manager.Enqueue(ctx, 1, 0)
	require.NoError(t, err)

	// Claim the job, then simulate a crashed worker by rewinding the clock:
	// the claim happened 10 minutes ago from the reaper's point of view.
	manager.now = func() time.Time { return time.Now().UTC().Add(-10 * time.Minute) }
	claimed, err := manager.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	manager.now = func() time.Time { return time.Now().UTC() }

	reaper := NewReaper(manager)
	reaped, err := reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	stored, err := manager.Job(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, stored.Status, "reaped job is claimable again")
	assert.Equal(t, 1, stored.Attempts, "the interruption counts against the budget")
	assert.Equal(t, "processing timeout", stored.LastError)

	// And it can complete on the retry
	claimed, err = manager.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, manager.Complete(ctx, job.Id))
}

func TestReapOnce_LeavesFreshJobsAlone(t *testing.T) {
	manager, _ := newTestManager(t, Config{})
	ctx := context.Background()

	_, _, err := manager.Enqueue(ctx, 1, 0)
	require.NoError(t, err)
	claimed, err := manager.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	reaper := NewReaper(manager)
	reaped, err := reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	status, err := manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Processing)
}

func TestReapOnce_ExhaustsBudget(t *testing.T) {
	manager, _ := newTestManager(t, Config{
		MaxAttempts: 1,
		BackoffBase: time.Nanosecond,
		BackoffCap:  time.Nanosecond,
	})
	ctx := context.Background()

	job, _, err := manager.Enqueue(ctx, 1, 0)
	require.NoError(t, err)

	manager.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	_, err = manager.Claim(ctx, 1)
	require.NoError(t, err)
	manager.now = func() time.Time { return time.Now().UTC() }

	reaper := NewReaper(manager)
	reaped, err := reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	stored, err := manager.Job(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, stored.Status, "single-attempt budget spent by the timeout")
}
