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


// Package ingestion runs the per-narrative pipeline: fetch the text, chunk
// and embed it, then link the narrative to catalog themes. The pipeline
// never classifies failures; it surfaces errors as they are and the queue
// manager decides retry versus terminal.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/noctiluca/reverie/chunk"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/narrative"
	"github.com/noctiluca/reverie/storage"
	"github.com/noctiluca/reverie/themes"
)

// Pipeline processes one embedding job end to end.
type Pipeline struct {
	source    narrative.Source
	generator *chunk.Generator
	extractor *themes.Extractor
	chunks    storage.ChunkRepository
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. The extractor may be nil when no theme
// catalog is configured; theme linking is then skipped.
func NewPipeline(source narrative.Source, generator *chunk.Generator, extractor *themes.Extractor, chunks storage.ChunkRepository) (*Pipeline, error) {
	if source == nil {
		return nil, fmt.Errorf("narrative source required")
	}
	if generator == nil {
		return nil, fmt.Errorf("chunk generator required")
	}
	if chunks == nil {
		return nil, fmt.Errorf("chunk repository required")
	}

	return &Pipeline{
		source:    source,
		generator: generator,
		extractor: extractor,
		chunks:    chunks,
		logger:    slog.Default().With("component", "ingestion-pipeline"),
	}, nil
}

// ProcessJob fetches the narrative text, chunks and embeds it, and extracts
// theme links from the stored chunks.
func (p *Pipeline) ProcessJob(ctx context.Context, job *core.EmbeddingJob) error {
	started := time.Now()

	text, err := p.source.NarrativeText(ctx, job.NarrativeId)
	if err != nil {
		return fmt.Errorf("fetching narrative %d: %w", job.NarrativeId, err)
	}

	result, err := p.generator.Process(ctx, job.NarrativeId, text)
	if err != nil {
		return err
	}

	links := 0
	if p.extractor != nil {
		stored, err := p.chunks.GetChunks(ctx, job.NarrativeId, p.generator.Version())
		if err != nil {
			return fmt.Errorf("loading chunks for narrative %d: %w", job.NarrativeId, err)
		}
		extracted, err := p.extractor.Extract(ctx, job.NarrativeId, stored)
		if err != nil {
			return fmt.Errorf("extracting themes for narrative %d: %w", job.NarrativeId, err)
		}
		links = len(extracted)
	}

	p.logger.Info("narrative processed",
		"narrative_id", job.NarrativeId,
		"chunks", result.Chunks,
		"tokens", result.Tokens,
		"theme_links", links,
		"duration", time.Since(started))
	return nil
}
