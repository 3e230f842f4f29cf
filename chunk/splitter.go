package chunk

import (
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the target chunk length in tokens.
	DefaultChunkSize = 256
	// DefaultChunkOverlap is how many tokens consecutive chunks share, so
	// meaning that straddles a boundary survives in at least one chunk.
	DefaultChunkOverlap = 32
)

// Splitter cuts narrative text into overlapping chunks sized in tokens.
// Splitting is deterministic: the same text always yields the same chunks,
// which keeps chunk indexes stable across job retries.
type Splitter struct {
	inner   textsplitter.RecursiveCharacter
	counter TokenCounter
}

// NewSplitter creates a splitter that measures length with the given counter.
// Chunk size and overlap are in tokens; zero values take the defaults.
func NewSplitter(counter TokenCounter, chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}

	inner := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithLenFunc(counter.Count),
	)

	return &Splitter{
		inner:   inner,
		counter: counter,
	}
}

// Split cuts text into chunks. Short texts yield a single chunk.
func (s *Splitter) Split(text string) ([]string, error) {
	return s.inner.SplitText(text)
}
