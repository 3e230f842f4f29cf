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


// Package reembed rebuilds stored vectors after an embedding model change.
// Catalog entries (themes and fragments) are re-embedded in place; narrative
// chunks are versioned, so their jobs are requeued and the worker rebuilds
// them under the new version.
package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/catalog"
	"github.com/noctiluca/reverie/storage"
	"github.com/noctiluca/reverie/themes"
)

// Summary reports what a re-embedding run touched.
type Summary struct {
	Themes    int
	Fragments int
}

// Runner re-embeds the theme and fragment catalogs with the current
// embedder and version.
type Runner struct {
	themeRepo    storage.ThemeRepository
	fragmentRepo storage.FragmentRepository
	embedder     ai.Embedder
	version      string
	batchSize    int
	progressOut  io.Writer
	logger       *slog.Logger
}

// NewRunner creates a Runner. progressOut may be nil to disable progress
// reporting.
func NewRunner(themeRepo storage.ThemeRepository, fragmentRepo storage.FragmentRepository, embedder ai.Embedder, version string, batchSize int, progressOut io.Writer) (*Runner, error) {
	if themeRepo == nil {
		return nil, fmt.Errorf("theme repository required")
	}
	if fragmentRepo == nil {
		return nil, fmt.Errorf("fragment repository required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if version == "" {
		return nil, fmt.Errorf("embedding version required")
	}

	return &Runner{
		themeRepo:    themeRepo,
		fragmentRepo: fragmentRepo,
		embedder:     embedder,
		version:      version,
		batchSize:    batchSize,
		progressOut:  progressOut,
		logger:       slog.Default().With("component", "reembed-runner"),
	}, nil
}

// Run re-embeds both catalogs and returns a summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	themeCount, err := r.reembedThemes(ctx)
	if err != nil {
		return nil, err
	}

	fragmentCount, err := r.reembedFragments(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.Info("re-embedding complete",
		"themes", themeCount,
		"fragments", fragmentCount,
		"version", r.version)
	return &Summary{Themes: themeCount, Fragments: fragmentCount}, nil
}

func (r *Runner) reembedThemes(ctx context.Context) (int, error) {
	stored, err := r.themeRepo.GetAllThemes(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading theme catalog: %w", err)
	}
	if len(stored) == 0 {
		return 0, nil
	}

	cat, err := themes.NewCatalog(r.themeRepo, r.embedder, r.version)
	if err != nil {
		return 0, err
	}

	tracker := r.tracker("themes", len(stored))
	if err := cat.Ingest(ctx, stored...); err != nil {
		return 0, err
	}
	if tracker != nil {
		tracker.Add(len(stored))
		tracker.Finish()
	}
	return len(stored), nil
}

func (r *Runner) reembedFragments(ctx context.Context) (int, error) {
	stored, err := r.fragmentRepo.GetAllFragments(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading fragment catalog: %w", err)
	}
	if len(stored) == 0 {
		return 0, nil
	}

	ingestor, err := catalog.NewIngestor(r.fragmentRepo, r.embedder, r.batchSize)
	if err != nil {
		return 0, err
	}

	tracker := r.tracker("fragments", len(stored))
	batch := r.batchSize
	if batch <= 0 {
		batch = len(stored)
	}
	for start := 0; start < len(stored); start += batch {
		end := start + batch
		if end > len(stored) {
			end = len(stored)
		}
		if err := ingestor.Ingest(ctx, stored[start:end]...); err != nil {
			return 0, err
		}
		if tracker != nil {
			tracker.Add(end - start)
		}
	}
	if tracker != nil {
		tracker.Finish()
	}
	return len(stored), nil
}

func (r *Runner) tracker(label string, total int) *ProgressTracker {
	if r.progressOut == nil {
		return nil
	}
	t := NewProgressTracker(r.progressOut, label, total)
	t.Start()
	return t
}
