package search

import "errors"

var (
	// ErrFragmentRepositoryRequired indicates the retriever was constructed
	// without a fragment repository.
	ErrFragmentRepositoryRequired = errors.New("fragment repository is required")

	// ErrEmbedderRequired indicates a text query was issued without an
	// embedder to turn it into a vector.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrEmptyQuery indicates the query carries no usable signal: no vector,
	// no well-formed sparse map, and no text.
	ErrEmptyQuery = errors.New("query has no usable signal")

	// ErrInvalidCandidateThreshold indicates a candidate similarity cutoff
	// outside [0, 1].
	ErrInvalidCandidateThreshold = errors.New("candidate threshold must be in [0, 1]")
)
