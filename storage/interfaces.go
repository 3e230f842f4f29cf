package storage

import (
	"context"
	"time"

	"github.com/noctiluca/reverie/core"
)

// BackoffFunc computes the retry delay for a job that has failed the given
// number of attempts. The queue manager supplies the policy; repositories
// only apply it inside the failure transition.
type BackoffFunc func(attempts int) time.Duration

// FragmentFilter restricts fragment candidate generation.
// Zero-value fields do not filter.
type FragmentFilter struct {
	Source  string
	Chapter string
}

// Candidate is a fragment produced by the candidate-generation phase of
// retrieval, together with its semantic similarity to the query vector.
type Candidate struct {
	Fragment   *core.ReferenceFragment
	Similarity float32
}

// JobRepository manages the durable embedding job queue and the denormalized
// per-narrative status. Implementations must be thread-safe: Claim is the
// shared-mutation point and must behave as an atomic conditional update so
// two claimers can never both win the same job.
type JobRepository interface {
	// InsertJobIfAbsent inserts a pending job for the narrative unless one
	// already exists. Returns the stored job and true when a new job was
	// created; the existing job and false otherwise. A conflicting insert
	// is a no-op, never an error.
	InsertJobIfAbsent(ctx context.Context, job *core.EmbeddingJob) (*core.EmbeddingJob, bool, error)

	// GetJob retrieves a job by ID. Returns ErrNotFound if absent.
	GetJob(ctx context.Context, id core.ID) (*core.EmbeddingJob, error)

	// GetJobByNarrative retrieves the job for a narrative.
	// Returns ErrNotFound if absent.
	GetJobByNarrative(ctx context.Context, narrativeID core.ID) (*core.EmbeddingJob, error)

	// ClaimJobs atomically selects up to maxN jobs that are pending, below
	// their attempt budget, and due (ScheduledAt <= now), ordered by
	// priority descending then scheduled time ascending, and transitions
	// them to processing with StartedAt=now. Returns the claimed set,
	// possibly empty. Exactly one concurrent claimer wins any given job.
	ClaimJobs(ctx context.Context, maxN int, now time.Time) ([]*core.EmbeddingJob, error)

	// CompleteJob transitions processing -> completed and mirrors the
	// narrative status in the same transaction.
	CompleteJob(ctx context.Context, id core.ID, now time.Time) error

	// FailJob records a failure: attempts are incremented; if the budget
	// allows and the failure is not permanent the job returns to pending
	// with ScheduledAt = now + backoff(attempts), otherwise it becomes
	// failed (terminal). The narrative status is mirrored in the same
	// transaction.
	FailJob(ctx context.Context, id core.ID, cause string, permanent bool, backoff BackoffFunc, now time.Time) error

	// SkipJob transitions processing -> skipped (terminal, not an error)
	// and mirrors the narrative status.
	SkipJob(ctx context.Context, id core.ID, reason string, now time.Time) error

	// RequeueJob resets a terminal job to pending with attempts=0 for a
	// deliberate re-run. Returns ErrNotFound if absent and
	// ErrInvalidTransition if the job is not terminal.
	RequeueJob(ctx context.Context, id core.ID, now time.Time) error

	// StaleProcessingJobs returns jobs stuck in processing whose StartedAt
	// is before the cutoff, ordered oldest first.
	StaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*core.EmbeddingJob, error)

	// CountJobsByStatus returns the number of jobs per status.
	CountJobsByStatus(ctx context.Context) (map[core.JobStatus]int, error)

	// GetNarrativeStatus retrieves the denormalized status for a narrative.
	// Returns ErrNotFound if the narrative was never enqueued.
	GetNarrativeStatus(ctx context.Context, narrativeID core.ID) (*core.NarrativeStatus, error)

	// Close releases repository resources.
	Close() error
}

// ChunkRepository manages embedding chunk records. Chunks are keyed by
// (narrative, chunk index, embedding version) and upserts are idempotent:
// re-writing the same key replaces content, never duplicates.
type ChunkRepository interface {
	// UpsertChunks writes chunk records, replacing any existing record
	// under the same key.
	UpsertChunks(ctx context.Context, chunks ...*core.EmbeddingChunk) error

	// GetChunks retrieves all chunks for a narrative under one embedding
	// version, ordered by chunk index.
	GetChunks(ctx context.Context, narrativeID core.ID, version string) ([]*core.EmbeddingChunk, error)

	// DeleteChunks removes all chunks for a narrative under one embedding
	// version. Missing chunks are not an error.
	DeleteChunks(ctx context.Context, narrativeID core.ID, version string) error

	// Close releases repository resources.
	Close() error
}

// ThemeRepository manages the theme catalog and narrative-theme links.
// The catalog is a set keyed by code: duplicate seed entries collapse.
type ThemeRepository interface {
	// UpsertThemes writes catalog entries keyed by code.
	UpsertThemes(ctx context.Context, themes ...*core.Theme) error

	// GetTheme retrieves a catalog entry by code.
	// Returns ErrNotFound if absent.
	GetTheme(ctx context.Context, code string) (*core.Theme, error)

	// GetAllThemes retrieves the full catalog, ordered by code.
	GetAllThemes(ctx context.Context) ([]*core.Theme, error)

	// UpsertThemeLinks writes links keyed by (narrative, code). When a link
	// already exists the higher similarity wins.
	UpsertThemeLinks(ctx context.Context, links ...*core.ThemeLink) error

	// GetThemeLinks retrieves links for a narrative with similarity >=
	// minSimilarity, ordered by similarity descending then code ascending.
	GetThemeLinks(ctx context.Context, narrativeID core.ID, minSimilarity float32) ([]*core.ThemeLink, error)

	// Close releases repository resources.
	Close() error
}

// FragmentRepository manages the reference fragment catalog and serves
// nearest-neighbor candidate generation for retrieval.
type FragmentRepository interface {
	// UpsertFragments writes fragments keyed by ID.
	UpsertFragments(ctx context.Context, fragments ...*core.ReferenceFragment) error

	// GetFragment retrieves a fragment by ID. Returns ErrNotFound if absent.
	GetFragment(ctx context.Context, id core.ID) (*core.ReferenceFragment, error)

	// GetAllFragments retrieves the full catalog.
	GetAllFragments(ctx context.Context) ([]*core.ReferenceFragment, error)

	// FindCandidates returns fragments whose cosine similarity to the query
	// vector is >= minSimilarity, best first, up to limit. Fragments
	// without a vector score zero and therefore pass only a zero threshold.
	FindCandidates(ctx context.Context, vector []float32, minSimilarity float32, limit int, filter *FragmentFilter) ([]*Candidate, error)

	// Close releases repository resources.
	Close() error
}
