package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// JobStatus is the lifecycle state of an EmbeddingJob.
type JobStatus int

const (
	// JobPending means the job is waiting to be claimed.
	JobPending JobStatus = iota + 1
	// JobProcessing means a worker has claimed the job and is working on it.
	JobProcessing
	// JobCompleted is the successful terminal state.
	JobCompleted
	// JobFailed is the terminal state after retry exhaustion or a permanent error.
	JobFailed
	// JobSkipped is the terminal state for ineligible narratives.
	// It is not an error: the narrative was simply too short to embed.
	JobSkipped
)

// String returns the lowercase name of the status.
func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobProcessing:
		return "processing"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a final state.
// Terminal jobs are never claimed again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobSkipped
}

// EmbeddingJob is a durable unit of embedding work, one per narrative.
// At most one job exists per narrative; the queue manager owns all
// state transitions.
type EmbeddingJob struct {
	Id          ID
	NarrativeId ID
	Status      JobStatus
	Priority    int // Higher priority jobs are claimed first
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time // Earliest time the job may be claimed
	StartedAt   time.Time // Set when a worker claims the job
	CompletedAt time.Time
	LastError   string
}

// NarrativeStatus mirrors the job lifecycle on the narrative for fast reads.
// It is written in the same transaction as the job transition that caused it.
type NarrativeStatus struct {
	NarrativeId ID
	Status      JobStatus
	Attempts    int
	LastError   string
	ProcessedAt time.Time
}

// EmbeddingChunk is one embedded slice of a narrative, keyed by
// (narrative, chunk index, embedding version). Chunks are immutable once
// written; re-embedding creates rows under a new version.
type EmbeddingChunk struct {
	NarrativeId      ID
	ChunkIndex       int
	EmbeddingVersion string
	Vector           []float32
	SourceText       string
	TokenCount       int
	ProcessingTimeMs int64
	InsertedAt       time.Time
}

// Theme is a catalog concept (e.g. "falling") matched against narrative
// chunks by cosine similarity. The catalog is a set keyed by Code.
type Theme struct {
	Code        string
	Label       string
	Description string
	Vector      []float32          // nil until the catalog is embedded
	Sparse      map[string]float32 // optional token -> weight map
	Version     string
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// ThemeLink associates a narrative with a theme, unique on
// (narrative, theme code). Similarity is the maximum over the
// narrative's chunks; ChunkIndex records which chunk produced it.
type ThemeLink struct {
	NarrativeId ID
	ThemeCode   string
	Similarity  float32
	ChunkIndex  int
	ExtractedAt time.Time
}

// ThemeScore is the consumer-facing view of a theme association.
type ThemeScore struct {
	ThemeCode  string
	Similarity float32
}

// ReferenceFragment is a unit of source material served by retrieval.
// Vector and Sparse are both optional; Tags carries applicable theme and
// concept codes used for score boosting.
type ReferenceFragment struct {
	Id         ID
	Text       string
	Source     string
	Chapter    string
	Vector     []float32
	Sparse     map[string]float32
	Tags       []string
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// HasTag reports whether the fragment carries the given tag.
func (f *ReferenceFragment) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RankedFragment is a retrieval result with its component scores.
type RankedFragment struct {
	Fragment *ReferenceFragment
	Score    float32
	Semantic float32
	Sparse   float32
	Lexical  float32
}
