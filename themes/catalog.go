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


// Package themes manages the theme catalog and extracts theme associations
// from embedded narratives by cosine similarity.
package themes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// SeedTheme is the JSON shape of one catalog seed entry.
type SeedTheme struct {
	Code        string             `json:"code"`
	Label       string             `json:"label"`
	Description string             `json:"description,omitempty"`
	Keywords    map[string]float32 `json:"keywords,omitempty"`
}

// LoadSeedFile reads a JSON array of seed themes. Duplicate codes collapse,
// last entry wins.
func LoadSeedFile(path string) ([]*core.Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme seed file: %w", err)
	}

	var seeds []SeedTheme
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parsing theme seed file %s: %w", path, err)
	}

	byCode := make(map[string]*core.Theme, len(seeds))
	order := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		theme := &core.Theme{
			Code:        seed.Code,
			Label:       seed.Label,
			Description: seed.Description,
			Sparse:      seed.Keywords,
		}
		if err := core.ValidateTheme(theme); err != nil {
			return nil, err
		}
		if _, seen := byCode[seed.Code]; !seen {
			order = append(order, seed.Code)
		}
		byCode[seed.Code] = theme
	}

	themes := make([]*core.Theme, 0, len(byCode))
	for _, code := range order {
		themes = append(themes, byCode[code])
	}
	return themes, nil
}

// Catalog ingests themes: it embeds each entry and stores it keyed by code.
type Catalog struct {
	themes   storage.ThemeRepository
	embedder ai.Embedder
	version  string
	logger   *slog.Logger
}

// NewCatalog creates a Catalog writing vectors under the given version.
func NewCatalog(themes storage.ThemeRepository, embedder ai.Embedder, version string) (*Catalog, error) {
	if themes == nil {
		return nil, fmt.Errorf("theme repository required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if version == "" {
		return nil, fmt.Errorf("embedding version required")
	}
	return &Catalog{
		themes:   themes,
		embedder: embedder,
		version:  version,
		logger:   slog.Default().With("component", "theme-catalog"),
	}, nil
}

// Ingest embeds and stores the given themes. The description is the
// embedding text when present, the label otherwise.
func (c *Catalog) Ingest(ctx context.Context, themes ...*core.Theme) error {
	if len(themes) == 0 {
		return nil
	}

	texts := make([]string, len(themes))
	for i, theme := range themes {
		if err := core.ValidateTheme(theme); err != nil {
			return err
		}
		texts[i] = theme.Description
		if texts[i] == "" {
			texts[i] = theme.Label
		}
	}

	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding theme catalog: %w", err)
	}
	if len(vectors) != len(themes) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(themes), len(vectors))
	}

	now := time.Now().UTC()
	for i, theme := range themes {
		theme.Vector = core.NormalizeVector(vectors[i])
		theme.Version = c.version
		if theme.InsertedAt.IsZero() {
			theme.InsertedAt = now
		}
		theme.UpdatedAt = now
	}

	if err := c.themes.UpsertThemes(ctx, themes...); err != nil {
		return fmt.Errorf("storing theme catalog: %w", err)
	}

	c.logger.Info("theme catalog ingested", "themes", len(themes), "version", c.version)
	return nil
}

// Themes returns the full catalog ordered by code.
func (c *Catalog) Themes(ctx context.Context) ([]*core.Theme, error) {
	return c.themes.GetAllThemes(ctx)
}
