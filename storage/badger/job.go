package badger

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// claimRetries bounds how often a claim transaction is retried after losing
// the commit race to a concurrent claimer.
const claimRetries = 3

// JobRepository implements storage.JobRepository for BadgerDB.
//
// The pending -> processing transition relies on BadgerDB's serializable
// snapshot isolation: a claim transaction reads the job rows it transitions,
// so when two claimers race on the same row, the second commit fails with
// ErrConflict and exactly one claimer wins.
type JobRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
	logger  *slog.Logger
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	idSeq, err := backend.GetSequence(jobIDSeq)
	if err != nil {
		return nil, err
	}

	return &JobRepository{
		backend: backend,
		idSeq:   idSeq,
		logger:  slog.Default().With("component", "job-repository"),
	}, nil
}

// Close releases the ID sequence.
func (r *JobRepository) Close() error {
	return r.idSeq.Release()
}

// InsertJobIfAbsent inserts a pending job unless one already exists for the
// narrative. A conflicting insert is a no-op that returns the existing job.
func (r *JobRepository) InsertJobIfAbsent(ctx context.Context, job *core.EmbeddingJob) (*core.EmbeddingJob, bool, error) {
	if err := core.ValidateJob(job); err != nil {
		return nil, false, err
	}
	// A zero ScheduledAt has a negative UnixMicro and would sort after
	// every real time in the pending index.
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now().UTC()
	}

	var (
		stored  *core.EmbeddingJob
		created bool
	)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		stored, created = nil, false

		narrKey := makeJobNarrativeKey(job.NarrativeId)
		existing, err := r.jobByNarrativeKey(tx, narrKey)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}

		nextID, err := r.idSeq.Next()
		if err != nil {
			return err
		}
		// BadgerDB sequences can return 0 on first call, so we skip it
		if nextID == 0 {
			nextID, err = r.idSeq.Next()
			if err != nil {
				return err
			}
		}
		job.Id = core.ID(nextID)

		if err := tx.Set(makeJobKey(job.Id), storage.MarshalJob(job)); err != nil {
			return err
		}
		if err := tx.Set(narrKey, storage.MarshalID(job.Id)); err != nil {
			return err
		}
		if err := tx.Set(makeJobPendingKey(job.Priority, job.ScheduledAt, job.Id), storage.MarshalID(job.Id)); err != nil {
			return err
		}
		if err := writeNarrativeStatus(tx, job, time.Time{}); err != nil {
			return err
		}

		stored, created = job, true
		return tx.Commit()
	}, true)

	if err == badger.ErrConflict {
		// A concurrent enqueue won the insert; treat ours as the no-op.
		existing, getErr := r.GetJobByNarrative(ctx, job.NarrativeId)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id core.ID) (*core.EmbeddingJob, error) {
	var result *core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetJobByNarrative retrieves the job for a narrative.
func (r *JobRepository) GetJobByNarrative(ctx context.Context, narrativeID core.ID) (*core.EmbeddingJob, error) {
	var result *core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.jobByNarrativeKey(tx, makeJobNarrativeKey(narrativeID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ClaimJobs atomically transitions up to maxN due pending jobs to processing.
func (r *JobRepository) ClaimJobs(ctx context.Context, maxN int, now time.Time) ([]*core.EmbeddingJob, error) {
	if maxN <= 0 {
		return nil, nil
	}

	for attempt := 0; attempt < claimRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var claimed []*core.EmbeddingJob
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			claimed = nil

			opts := badger.DefaultIteratorOptions
			opts.Prefix = jobPendingScanPrefix()
			iter := tx.NewIterator(opts)
			defer iter.Close()

			for iter.Rewind(); iter.Valid() && len(claimed) < maxN; iter.Next() {
				var jobID core.ID
				if err := iter.Item().Value(func(val []byte) error {
					var err error
					jobID, err = storage.UnmarshalID(val)
					return err
				}); err != nil {
					return err
				}

				job, err := readJob(tx, makeJobKey(jobID))
				if err != nil {
					return err
				}
				if job == nil || job.Status != core.JobPending {
					continue
				}
				if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
					continue
				}
				// The index is priority-major, so jobs scheduled in the
				// future are skipped, not treated as a stop condition.
				if job.ScheduledAt.After(now) {
					continue
				}

				if err := tx.Delete(iter.Item().KeyCopy(nil)); err != nil {
					return err
				}
				job.Status = core.JobProcessing
				job.StartedAt = now
				if err := tx.Set(makeJobKey(job.Id), storage.MarshalJob(job)); err != nil {
					return err
				}
				if err := tx.Set(makeJobProcessingKey(now, job.Id), storage.MarshalID(job.Id)); err != nil {
					return err
				}
				if err := writeNarrativeStatus(tx, job, time.Time{}); err != nil {
					return err
				}
				claimed = append(claimed, job)
			}

			if len(claimed) == 0 {
				return nil
			}
			// BadgerDB panics if a transaction commits while an iterator
			// is still open; Close is idempotent with the defer above.
			iter.Close()
			return tx.Commit()
		}, true)

		if err == badger.ErrConflict {
			// Lost the conditional update to a concurrent claimer.
			// Retry against the new state; the winner keeps its jobs.
			r.logger.Debug("claim conflict, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}

	return nil, storage.ErrClaimContention
}

// CompleteJob transitions processing -> completed.
func (r *JobRepository) CompleteJob(ctx context.Context, id core.ID, now time.Time) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		if job.Status != core.JobProcessing {
			return storage.ErrInvalidTransition
		}

		if err := tx.Delete(makeJobProcessingKey(job.StartedAt, job.Id)); err != nil {
			return err
		}
		job.Status = core.JobCompleted
		job.CompletedAt = now
		job.LastError = ""
		if err := tx.Set(makeJobKey(job.Id), storage.MarshalJob(job)); err != nil {
			return err
		}
		if err := writeNarrativeStatus(tx, job, now); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// FailJob increments attempts and either reschedules the job with the
// supplied backoff or finalizes it as failed.
func (r *JobRepository) FailJob(ctx context.Context, id core.ID, cause string, permanent bool, backoff storage.BackoffFunc, now time.Time) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		if job.Status != core.JobProcessing {
			return storage.ErrInvalidTransition
		}

		if err := tx.Delete(makeJobProcessingKey(job.StartedAt, job.Id)); err != nil {
			return err
		}

		job.Attempts++
		job.LastError = cause
		job.StartedAt = time.Time{}

		if !permanent && job.Attempts < job.MaxAttempts {
			delay := time.Duration(0)
			if backoff != nil {
				delay = backoff(job.Attempts)
			}
			job.Status = core.JobPending
			job.ScheduledAt = now.Add(delay)
			if err := tx.Set(makeJobPendingKey(job.Priority, job.ScheduledAt, job.Id), storage.MarshalID(job.Id)); err != nil {
				return err
			}
		} else {
			job.Status = core.JobFailed
			job.CompletedAt = now
		}

		if err := tx.Set(makeJobKey(job.Id), storage.MarshalJob(job)); err != nil {
			return err
		}
		if err := writeNarrativeStatus(tx, job, time.Time{}); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// SkipJob transitions processing -> skipped for ineligible narratives.
func (r *JobRepository) SkipJob(ctx context.Context, id core.ID, reason string, now time.Time) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		if job.Status != core.JobProcessing {
			return storage.ErrInvalidTransition
		}

		if err := tx.Delete(makeJobProcessingKey(job.StartedAt, job.Id)); err != nil {
			return err
		}
		job.Status = core.JobSkipped
		job.CompletedAt = now
		job.LastError = reason
		if err := tx.Set(makeJobKey(job.Id), storage.MarshalJob(job)); err != nil {
			return err
		}
		if err := writeNarrativeStatus(tx, job, now); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RequeueJob resets a terminal job to pending for a deliberate re-run.
func (r *JobRepository) RequeueJob(ctx context.Context, id core.ID, now time.Time) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if job == nil {
			return storage.ErrNotFound
		}
		if !job.Status.Terminal() {
			return storage.ErrInvalidTransition
		}

		job.Status = core.JobPending
		job.Attempts = 0
		job.ScheduledAt = now
		job.StartedAt = time.Time{}
		job.CompletedAt = time.Time{}
		job.LastError = ""
		if err := tx.Set(makeJobKey(job.Id), storage.MarshalJob(job)); err != nil {
			return err
		}
		if err := tx.Set(makeJobPendingKey(job.Priority, job.ScheduledAt, job.Id), storage.MarshalID(job.Id)); err != nil {
			return err
		}
		if err := writeNarrativeStatus(tx, job, time.Time{}); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// StaleProcessingJobs returns processing jobs started before the cutoff,
// oldest first.
func (r *JobRepository) StaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*core.EmbeddingJob, error) {
	var results []*core.EmbeddingJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = jobProcessingScanPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var jobID core.ID
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				jobID, err = storage.UnmarshalID(val)
				return err
			}); err != nil {
				return err
			}

			job, err := readJob(tx, makeJobKey(jobID))
			if err != nil {
				return err
			}
			if job == nil || job.Status != core.JobProcessing {
				continue
			}
			// The index is ordered by start time, so the first fresh job
			// ends the scan.
			if !job.StartedAt.Before(cutoff) {
				break
			}
			results = append(results, job)
		}
		return nil
	}, false)

	return results, err
}

// CountJobsByStatus returns the number of jobs per status.
func (r *JobRepository) CountJobsByStatus(ctx context.Context) (map[core.JobStatus]int, error) {
	counts := make(map[core.JobStatus]int)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var job *core.EmbeddingJob
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				job, err = storage.UnmarshalJob(val)
				return err
			}); err != nil {
				return err
			}
			if job != nil {
				counts[job.Status]++
			}
		}
		return nil
	}, false)

	return counts, err
}

// GetNarrativeStatus retrieves the denormalized status for a narrative.
func (r *JobRepository) GetNarrativeStatus(ctx context.Context, narrativeID core.ID) (*core.NarrativeStatus, error) {
	var result *core.NarrativeStatus
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeNarrativeStatusKey(narrativeID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			result, unmarshalErr = storage.UnmarshalNarrativeStatus(val)
			return unmarshalErr
		})
	}, false)
	return result, err
}

// Helper methods

// jobByNarrativeKey resolves the unique-by-narrative index to a job.
func (r *JobRepository) jobByNarrativeKey(tx *badger.Txn, narrKey []byte) (*core.EmbeddingJob, error) {
	item, err := tx.Get(narrKey)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var jobID core.ID
	if err := item.Value(func(val []byte) error {
		var err error
		jobID, err = storage.UnmarshalID(val)
		return err
	}); err != nil {
		return nil, err
	}
	return readJob(tx, makeJobKey(jobID))
}

// readJob reads a job record from the transaction.
func readJob(tx *badger.Txn, key []byte) (*core.EmbeddingJob, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var job *core.EmbeddingJob
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		job, unmarshalErr = storage.UnmarshalJob(val)
		return unmarshalErr
	})
	return job, err
}

// writeNarrativeStatus mirrors the job state onto the narrative in the same
// transaction that transitions the job.
func writeNarrativeStatus(tx *badger.Txn, job *core.EmbeddingJob, processedAt time.Time) error {
	status := &core.NarrativeStatus{
		NarrativeId: job.NarrativeId,
		Status:      job.Status,
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		ProcessedAt: processedAt,
	}
	return tx.Set(makeNarrativeStatusKey(job.NarrativeId), storage.MarshalNarrativeStatus(status))
}
