// Copyright 2025 Noctiluca Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// Manager owns job lifecycle decisions. Processors report what happened;
// the manager alone decides whether that means retry, skip, or terminal
// failure, so retry policy lives in exactly one place.
type Manager struct {
	jobs   storage.JobRepository
	cfg    Config
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// Status is a point-in-time view of the queue. Workers is the configured
// poller count, the ceiling on concurrent processing.
type Status struct {
	Workers    int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Skipped    int
}

// NewManager creates a Manager.
func NewManager(jobs storage.JobRepository, cfg Config) (*Manager, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		jobs:   jobs,
		cfg:    cfg,
		logger: slog.Default().With("component", "queue-manager"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Enqueue creates a pending job for the narrative. If a job already exists
// in any state the call is a no-op returning the existing job; use Requeue
// to re-run a terminal job.
func (m *Manager) Enqueue(ctx context.Context, narrativeID core.ID, priority int) (*core.EmbeddingJob, bool, error) {
	now := m.now()
	job := &core.EmbeddingJob{
		NarrativeId: narrativeID,
		Status:      core.JobPending,
		Priority:    priority,
		MaxAttempts: m.cfg.MaxAttempts,
		ScheduledAt: now,
	}

	stored, created, err := m.jobs.InsertJobIfAbsent(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if created {
		m.logger.Info("job enqueued", "narrative", narrativeID, "job", stored.Id, "priority", priority)
	} else {
		m.logger.Debug("job already exists", "narrative", narrativeID, "job", stored.Id, "status", stored.Status)
	}
	return stored, created, nil
}

// Claim transitions up to maxN due jobs to processing. Losing a claim race
// entirely is reported as no work, not an error.
func (m *Manager) Claim(ctx context.Context, maxN int) ([]*core.EmbeddingJob, error) {
	claimed, err := m.jobs.ClaimJobs(ctx, maxN, m.now())
	if errors.Is(err, storage.ErrClaimContention) {
		return nil, nil
	}
	return claimed, err
}

// Complete marks a processing job successful.
func (m *Manager) Complete(ctx context.Context, id core.ID) error {
	if err := m.jobs.CompleteJob(ctx, id, m.now()); err != nil {
		return err
	}
	m.logger.Info("job completed", "job", id)
	return nil
}

// Fail records a processing failure and decides the job's fate from the
// error class:
//
//   - errors joined with core.ErrIneligible mark the job skipped (terminal,
//     not a failure)
//   - errors joined with core.ErrPermanent mark the job failed immediately
//   - anything else is transient: the job returns to pending with
//     exponential backoff until the attempt budget runs out
func (m *Manager) Fail(ctx context.Context, id core.ID, cause error) error {
	if cause == nil {
		return fmt.Errorf("fail requires a cause")
	}
	now := m.now()

	switch {
	case errors.Is(cause, core.ErrIneligible):
		if err := m.jobs.SkipJob(ctx, id, cause.Error(), now); err != nil {
			return err
		}
		m.logger.Info("job skipped", "job", id, "reason", cause.Error())
		return nil

	case errors.Is(cause, core.ErrPermanent):
		if err := m.jobs.FailJob(ctx, id, cause.Error(), true, nil, now); err != nil {
			return err
		}
		m.logger.Warn("job failed permanently", "job", id, "err", cause)
		return nil

	default:
		if err := m.jobs.FailJob(ctx, id, cause.Error(), false, m.Backoff, now); err != nil {
			return err
		}
		m.logger.Warn("job failed, may retry", "job", id, "err", cause)
		return nil
	}
}

// Requeue resets a terminal job to pending for a deliberate re-run.
func (m *Manager) Requeue(ctx context.Context, id core.ID) error {
	if err := m.jobs.RequeueJob(ctx, id, m.now()); err != nil {
		return err
	}
	m.logger.Info("job requeued", "job", id)
	return nil
}

// Backoff returns the retry delay after the given number of attempts:
// base * 2^attempts, capped.
func (m *Manager) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// Shifting past 62 bits overflows Duration long before any real cap
	if attempts > 32 {
		return m.cfg.BackoffCap
	}
	delay := m.cfg.BackoffBase << uint(attempts)
	if delay <= 0 || delay > m.cfg.BackoffCap {
		return m.cfg.BackoffCap
	}
	return delay
}

// Job returns a job by ID.
func (m *Manager) Job(ctx context.Context, id core.ID) (*core.EmbeddingJob, error) {
	return m.jobs.GetJob(ctx, id)
}

// JobForNarrative returns the job for a narrative.
func (m *Manager) JobForNarrative(ctx context.Context, narrativeID core.ID) (*core.EmbeddingJob, error) {
	return m.jobs.GetJobByNarrative(ctx, narrativeID)
}

// NarrativeStatus returns the denormalized processing status for a narrative.
func (m *Manager) NarrativeStatus(ctx context.Context, narrativeID core.ID) (*core.NarrativeStatus, error) {
	return m.jobs.GetNarrativeStatus(ctx, narrativeID)
}

// Status counts jobs by state.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	counts, err := m.jobs.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Workers:    m.cfg.Workers,
		Pending:    counts[core.JobPending],
		Processing: counts[core.JobProcessing],
		Completed:  counts[core.JobCompleted],
		Failed:     counts[core.JobFailed],
		Skipped:    counts[core.JobSkipped],
	}, nil
}
