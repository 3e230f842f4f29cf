package queue

import (
	"context"
	"log/slog"
	"time"
)

// Reaper recovers jobs abandoned mid-processing, typically after a worker
// crash. A reaped job is treated as a transient failure: the interruption
// counts against the attempt budget and the job goes back to pending with
// backoff, or terminal failed once the budget is spent.
type Reaper struct {
	manager *Manager
	logger  *slog.Logger
}

// NewReaper creates a Reaper over the manager's queue.
func NewReaper(manager *Manager) *Reaper {
	return &Reaper{
		manager: manager,
		logger:  slog.Default().With("component", "stale-job-reaper"),
	}
}

// Run scans on the configured interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.manager.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.logger.Error("reap scan failed", "err", err)
			}
		}
	}
}

// ReapOnce performs a single scan and returns the number of jobs recovered.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := r.manager.now().Add(-r.manager.cfg.ReapTimeout)

	stale, err := r.manager.jobs.StaleProcessingJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, job := range stale {
		err := r.manager.jobs.FailJob(ctx, job.Id, "processing timeout", false, r.manager.Backoff, r.manager.now())
		if err != nil {
			// Another transition beat us to it; the job is no longer stale
			r.logger.Debug("stale job transitioned concurrently", "job", job.Id, "err", err)
			continue
		}
		reaped++
		r.logger.Warn("stale job reaped",
			"job", job.Id,
			"narrative", job.NarrativeId,
			"started_at", job.StartedAt,
			"attempts", job.Attempts+1)
	}
	return reaped, nil
}
