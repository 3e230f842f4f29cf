package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		ReapInterval: time.Hour, // keep the reaper quiet during worker tests
		Workers:      2,
		BatchSize:    4,
	}
}

// waitForStatus polls until the predicate holds or the deadline passes.
func waitForStatus(t *testing.T, manager *Manager, pred func(*Status) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := manager.Status(context.Background())
		require.NoError(t, err)
		if pred(status) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queue did not reach expected state in time")
}

func TestWorker_ProcessesJobs(t *testing.T) {
	manager, _ := newTestManager(t, workerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu        sync.Mutex
		processed []core.ID
	)
	worker, err := NewWorker(manager, ProcessorFunc(func(ctx context.Context, job *core.EmbeddingJob) error {
		mu.Lock()
		processed = append(processed, job.NarrativeId)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, err)

	for narrative := core.ID(1); narrative <= 5; narrative++ {
		_, _, err := manager.Enqueue(ctx, narrative, 0)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	waitForStatus(t, manager, func(s *Status) bool { return s.Completed == 5 })

	cancel()
	err = <-done
	assert.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, processed, 5)
}

func TestWorker_RecordsFailureClasses(t *testing.T) {
	cfg := workerConfig()
	cfg.MaxAttempts = 1
	manager, _ := newTestManager(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker, err := NewWorker(manager, ProcessorFunc(func(ctx context.Context, job *core.EmbeddingJob) error {
		switch job.NarrativeId {
		case 1:
			return nil
		case 2:
			return fmt.Errorf("%w: text too short", core.ErrIneligible)
		default:
			return errors.New("provider unreachable")
		}
	}))
	require.NoError(t, err)

	for narrative := core.ID(1); narrative <= 3; narrative++ {
		_, _, err := manager.Enqueue(ctx, narrative, 0)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	waitForStatus(t, manager, func(s *Status) bool {
		return s.Completed == 1 && s.Skipped == 1 && s.Failed == 1
	})

	cancel()
	<-done

	status, err := manager.NarrativeStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, core.JobSkipped, status.Status)
}

func TestWorker_ShutdownLetsInFlightJobsFinish(t *testing.T) {
	manager, _ := newTestManager(t, workerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	worker, err := NewWorker(manager, ProcessorFunc(func(jobCtx context.Context, job *core.EmbeddingJob) error {
		close(started)
		<-release
		// Run's context is cancelled by now; the job's own context must
		// survive the shutdown and stay bounded only by the job timeout
		return jobCtx.Err()
	}))
	require.NoError(t, err)

	_, _, err = manager.Enqueue(ctx, 1, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	<-started
	cancel()
	close(release)
	<-done

	status, err := manager.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Completed, "in-flight job ran to completion")

	job, err := manager.JobForNarrative(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts, "shutdown burned no retry")
}

func TestWorker_PriorityOrder(t *testing.T) {
	cfg := workerConfig()
	cfg.Workers = 1
	cfg.BatchSize = 1
	manager, _ := newTestManager(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		order []core.ID
	)
	worker, err := NewWorker(manager, ProcessorFunc(func(ctx context.Context, job *core.EmbeddingJob) error {
		mu.Lock()
		order = append(order, job.NarrativeId)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, err)

	_, _, err = manager.Enqueue(ctx, 1, 0)
	require.NoError(t, err)
	_, _, err = manager.Enqueue(ctx, 2, 10)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	waitForStatus(t, manager, func(s *Status) bool { return s.Completed == 2 })
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, core.ID(2), order[0], "higher priority claimed first")
}
