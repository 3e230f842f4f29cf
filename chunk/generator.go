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


package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

const (
	// DefaultMinNarrativeLength is the minimum narrative length in runes.
	// Anything shorter carries too little signal to embed and is skipped.
	DefaultMinNarrativeLength = 50

	// defaultEmbedRetries bounds in-process retries against the provider.
	// Failures that survive these retries surface to the job queue, which
	// owns the durable retry budget.
	defaultEmbedRetries = 2
)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Dimension is the required length of every embedding vector.
	Dimension int

	// Version tags every chunk written by this generator.
	Version string

	// MinNarrativeLength in runes; shorter narratives are ineligible.
	// Zero takes the default.
	MinNarrativeLength int

	// ChunkSize and ChunkOverlap are in tokens; zero takes the defaults.
	ChunkSize    int
	ChunkOverlap int
}

// Result summarizes one narrative's embedding run.
type Result struct {
	Chunks int
	Tokens int
}

// Generator turns a narrative into normalized, versioned embedding chunks.
//
// Error contract: an error joined with core.ErrIneligible means the narrative
// should be skipped, one joined with core.ErrPermanent means retrying is
// pointless, anything else is transient. The generator never touches the job
// queue; callers map these classes onto job transitions.
type Generator struct {
	chunks    storage.ChunkRepository
	embedder  ai.Embedder
	splitter  *Splitter
	counter   TokenCounter
	dimension int
	version   string
	minLength int
	logger    *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(chunks storage.ChunkRepository, embedder ai.Embedder, counter TokenCounter, cfg GeneratorConfig) (*Generator, error) {
	if chunks == nil {
		return nil, fmt.Errorf("chunk repository required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if counter == nil {
		return nil, fmt.Errorf("token counter required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("positive embedding dimension required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("embedding version required")
	}

	minLength := cfg.MinNarrativeLength
	if minLength <= 0 {
		minLength = DefaultMinNarrativeLength
	}

	return &Generator{
		chunks:    chunks,
		embedder:  embedder,
		splitter:  NewSplitter(counter, cfg.ChunkSize, cfg.ChunkOverlap),
		counter:   counter,
		dimension: cfg.Dimension,
		version:   cfg.Version,
		minLength: minLength,
		logger:    slog.Default().With("component", "chunk-generator"),
	}, nil
}

// Version returns the embedding version this generator writes.
func (g *Generator) Version() string {
	return g.version
}

// Process chunks, embeds, and stores one narrative. Re-running over the same
// narrative rewrites the same chunk keys, so completed work is idempotent.
func (g *Generator) Process(ctx context.Context, narrativeID core.ID, text string) (*Result, error) {
	started := time.Now()

	trimmed := strings.TrimSpace(text)
	if length := utf8.RuneCountInString(trimmed); length < g.minLength {
		return nil, fmt.Errorf("%w: %w: %d runes, minimum %d",
			core.ErrIneligible, ErrTextTooShort, length, g.minLength)
	}

	pieces, err := g.splitter.Split(trimmed)
	if err != nil {
		return nil, fmt.Errorf("splitting narrative %d: %w", narrativeID, err)
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: %w: splitter produced no chunks",
			core.ErrIneligible, ErrTextTooShort)
	}

	g.logger.Debug("embedding narrative", "narrative", narrativeID, "chunks", len(pieces))

	vectors, err := g.embed(ctx, pieces)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d vectors",
			ErrBatchMismatch, len(pieces), len(vectors))
	}

	elapsed := time.Since(started).Milliseconds()
	now := time.Now().UTC()
	totalTokens := 0

	records := make([]*core.EmbeddingChunk, len(pieces))
	for i, piece := range pieces {
		if len(vectors[i]) != g.dimension {
			return nil, fmt.Errorf("%w: %w: chunk %d has %d values, expected %d",
				core.ErrPermanent, ErrDimensionMismatch, i, len(vectors[i]), g.dimension)
		}

		tokens := g.counter.Count(piece)
		totalTokens += tokens
		records[i] = &core.EmbeddingChunk{
			NarrativeId:      narrativeID,
			ChunkIndex:       i,
			EmbeddingVersion: g.version,
			Vector:           core.NormalizeVector(vectors[i]),
			SourceText:       piece,
			TokenCount:       tokens,
			ProcessingTimeMs: elapsed,
			InsertedAt:       now,
		}
	}

	if err := g.chunks.UpsertChunks(ctx, records...); err != nil {
		return nil, fmt.Errorf("storing chunks for narrative %d: %w", narrativeID, err)
	}

	g.logger.Info("narrative embedded",
		"narrative", narrativeID,
		"chunks", len(records),
		"tokens", totalTokens,
		"elapsed_ms", elapsed)

	return &Result{Chunks: len(records), Tokens: totalTokens}, nil
}

// embed calls the provider with bounded exponential retries for hiccups that
// resolve within the run. Anything that survives bubbles up transient.
func (g *Generator) embed(ctx context.Context, pieces []string) ([][]float32, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultEmbedRetries), ctx)

	return backoff.RetryWithData(func() ([][]float32, error) {
		vectors, err := g.embedder.EmbedTexts(ctx, pieces)
		if err != nil {
			g.logger.Warn("embedding call failed, may retry", "err", err)
			return nil, err
		}
		return vectors, nil
	}, policy)
}
