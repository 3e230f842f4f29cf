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


// Package catalog ingests reference fragments: the source material that
// retrieval serves back against dream narratives.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/search"
	"github.com/noctiluca/reverie/storage"
)

// SeedFragment is the JSON shape of one catalog seed entry.
type SeedFragment struct {
	Text     string             `json:"text"`
	Source   string             `json:"source,omitempty"`
	Chapter  string             `json:"chapter,omitempty"`
	Tags     []string           `json:"tags,omitempty"`
	Keywords map[string]float32 `json:"keywords,omitempty"`
}

// LoadSeedFile reads a JSON array of seed fragments. IDs are content
// hashes, so re-ingesting the same text overwrites rather than duplicates.
func LoadSeedFile(path string) ([]*core.ReferenceFragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fragment seed file: %w", err)
	}

	var seeds []SeedFragment
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parsing fragment seed file %s: %w", path, err)
	}

	fragments := make([]*core.ReferenceFragment, 0, len(seeds))
	for _, seed := range seeds {
		fragment := &core.ReferenceFragment{
			Id:      core.IDFromContent(seed.Text),
			Text:    seed.Text,
			Source:  seed.Source,
			Chapter: seed.Chapter,
			Tags:    seed.Tags,
			Sparse:  seed.Keywords,
		}
		if err := core.ValidateFragment(fragment); err != nil {
			return nil, err
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

// Ingestor embeds and stores reference fragments.
type Ingestor struct {
	fragments storage.FragmentRepository
	embedder  ai.Embedder
	batchSize int
	logger    *slog.Logger
}

// defaultBatchSize bounds how many fragment texts go to the provider at once.
const defaultBatchSize = 32

// NewIngestor creates an Ingestor. A non-positive batchSize takes the
// default.
func NewIngestor(fragments storage.FragmentRepository, embedder ai.Embedder, batchSize int) (*Ingestor, error) {
	if fragments == nil {
		return nil, fmt.Errorf("fragment repository required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Ingestor{
		fragments: fragments,
		embedder:  embedder,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "fragment-ingestor"),
	}, nil
}

// Ingest embeds the fragments in batches and stores them. Fragments with no
// sparse map get one built from their text, so every fragment can serve the
// sparse scoring component.
func (ing *Ingestor) Ingest(ctx context.Context, fragments ...*core.ReferenceFragment) error {
	for start := 0; start < len(fragments); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(fragments) {
			end = len(fragments)
		}
		if err := ing.ingestBatch(ctx, fragments[start:end]); err != nil {
			return err
		}
	}

	ing.logger.Info("fragments ingested", "fragments", len(fragments))
	return nil
}

func (ing *Ingestor) ingestBatch(ctx context.Context, batch []*core.ReferenceFragment) error {
	texts := make([]string, len(batch))
	for i, fragment := range batch {
		if err := core.ValidateFragment(fragment); err != nil {
			return err
		}
		texts[i] = fragment.Text
	}

	vectors, err := ing.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding fragments: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
	}

	now := time.Now().UTC()
	for i, fragment := range batch {
		if fragment.Id == 0 {
			fragment.Id = core.IDFromContent(fragment.Text)
		}
		fragment.Vector = core.NormalizeVector(vectors[i])
		if fragment.Sparse == nil {
			fragment.Sparse = search.BuildSparse(fragment.Text)
		}
		if fragment.InsertedAt.IsZero() {
			fragment.InsertedAt = now
		}
		fragment.UpdatedAt = now
	}

	return ing.fragments.UpsertFragments(ctx, batch...)
}
