package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

// Processor performs the work for one claimed job. Implementations report
// what happened through the returned error and never touch job state; the
// manager maps the error class onto the job's fate.
type Processor interface {
	ProcessJob(ctx context.Context, job *core.EmbeddingJob) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *core.EmbeddingJob) error

// ProcessJob calls the function.
func (f ProcessorFunc) ProcessJob(ctx context.Context, job *core.EmbeddingJob) error {
	return f(ctx, job)
}

// Worker drives the queue: it polls for due jobs, fans them out to a worker
// pool, and runs the stale-job reaper alongside.
type Worker struct {
	manager   *Manager
	processor Processor
	reaper    *Reaper
	pool      *ants.Pool
	logger    *slog.Logger

	inFlight sync.WaitGroup
}

// NewWorker creates a Worker with a pool sized from the manager's config.
func NewWorker(manager *Manager, processor Processor) (*Worker, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor required")
	}

	pool, err := ants.NewPool(manager.cfg.Workers)
	if err != nil {
		return nil, err
	}

	return &Worker{
		manager:   manager,
		processor: processor,
		reaper:    NewReaper(manager),
		pool:      pool,
		logger:    slog.Default().With("component", "queue-worker"),
	}, nil
}

// Running returns the number of jobs currently executing in the pool.
func (w *Worker) Running() int {
	return w.pool.Running()
}

// Run polls and processes jobs until the context is cancelled, then waits
// for in-flight jobs to finish. Always returns the cancellation cause.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.pollLoop(ctx)
	})
	g.Go(func() error {
		return w.reaper.Run(ctx)
	})

	err := g.Wait()
	w.inFlight.Wait()
	w.pool.Release()
	return err
}

// pollLoop claims due jobs on the poll interval and submits them to the pool.
func (w *Worker) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.manager.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				w.logger.Error("poll failed", "err", err)
			}
		}
	}
}

// pollOnce claims one batch and dispatches it.
func (w *Worker) pollOnce(ctx context.Context) error {
	claimed, err := w.manager.Claim(ctx, w.manager.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, job := range claimed {
		job := job
		w.inFlight.Add(1)
		if err := w.pool.Submit(func() {
			defer w.inFlight.Done()
			w.handle(ctx, job)
		}); err != nil {
			w.inFlight.Done()
			// Pool is released during shutdown; the reaper recovers the job
			w.logger.Warn("could not submit job", "job", job.Id, "err", err)
		}
	}
	return nil
}

// handle runs one job under the job timeout and reports the outcome.
// The job context is detached from the poll loop: shutdown stops claiming
// but lets in-flight jobs run to completion, bounded only by the timeout.
// Job transitions likewise use the background context so a completed job
// is always recorded even when the worker is shutting down.
func (w *Worker) handle(ctx context.Context, job *core.EmbeddingJob) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.manager.cfg.JobTimeout)
	defer cancel()

	err := w.processor.ProcessJob(jobCtx, job)

	recordCtx := context.Background()
	if err != nil {
		if failErr := w.manager.Fail(recordCtx, job.Id, err); failErr != nil {
			w.logger.Error("could not record job failure", "job", job.Id, "err", failErr)
		}
		return
	}
	if completeErr := w.manager.Complete(recordCtx, job.Id); completeErr != nil {
		w.logger.Error("could not record job completion", "job", job.Id, "err", completeErr)
	}
}
