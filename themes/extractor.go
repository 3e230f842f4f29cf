package themes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
)

// DefaultThreshold is the minimum cosine similarity for a theme link.
const DefaultThreshold = 0.30

// Extractor scores narratives against the theme catalog.
//
// A narrative's similarity to a theme is the maximum over its chunks, so a
// theme that dominates one scene still registers even when the rest of the
// narrative is about something else.
type Extractor struct {
	themes    storage.ThemeRepository
	threshold float32
	logger    *slog.Logger
}

// NewExtractor creates an Extractor. A non-positive threshold takes the
// default.
func NewExtractor(themes storage.ThemeRepository, threshold float32) (*Extractor, error) {
	if themes == nil {
		return nil, fmt.Errorf("theme repository required")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Extractor{
		themes:    themes,
		threshold: threshold,
		logger:    slog.Default().With("component", "theme-extractor"),
	}, nil
}

// Extract scores the narrative's chunks against every catalog theme and
// stores a link for each theme at or above the threshold. Returns the links
// ordered by similarity descending then code ascending. Catalog entries
// without a vector are ignored.
func (e *Extractor) Extract(ctx context.Context, narrativeID core.ID, chunks []*core.EmbeddingChunk) ([]*core.ThemeLink, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	catalog, err := e.themes.GetAllThemes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading theme catalog: %w", err)
	}

	now := time.Now().UTC()
	var links []*core.ThemeLink
	for _, theme := range catalog {
		if len(theme.Vector) == 0 {
			continue
		}

		best := float32(-1)
		bestChunk := 0
		for _, chunk := range chunks {
			if len(chunk.Vector) == 0 {
				continue
			}
			if sim := core.CosineSimilarity(theme.Vector, chunk.Vector); sim > best {
				best = sim
				bestChunk = chunk.ChunkIndex
			}
		}

		if best < e.threshold {
			continue
		}
		links = append(links, &core.ThemeLink{
			NarrativeId: narrativeID,
			ThemeCode:   theme.Code,
			Similarity:  best,
			ChunkIndex:  bestChunk,
			ExtractedAt: now,
		})
	}

	if len(links) == 0 {
		e.logger.Debug("no themes above threshold", "narrative", narrativeID)
		return nil, nil
	}

	if err := e.themes.UpsertThemeLinks(ctx, links...); err != nil {
		return nil, fmt.Errorf("storing theme links for narrative %d: %w", narrativeID, err)
	}

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Similarity != links[j].Similarity {
			return links[i].Similarity > links[j].Similarity
		}
		return links[i].ThemeCode < links[j].ThemeCode
	})

	e.logger.Info("themes extracted", "narrative", narrativeID, "links", len(links))
	return links, nil
}

// Links returns the stored theme associations for a narrative at or above
// minSimilarity, ordered by similarity descending then code ascending.
func (e *Extractor) Links(ctx context.Context, narrativeID core.ID, minSimilarity float32) ([]*core.ThemeLink, error) {
	return e.themes.GetThemeLinks(ctx, narrativeID, minSimilarity)
}

// Scores returns the consumer view of a narrative's theme associations,
// in the same order as Links.
func (e *Extractor) Scores(ctx context.Context, narrativeID core.ID, minSimilarity float32) ([]core.ThemeScore, error) {
	links, err := e.Links(ctx, narrativeID, minSimilarity)
	if err != nil {
		return nil, err
	}

	scores := make([]core.ThemeScore, len(links))
	for i, link := range links {
		scores[i] = core.ThemeScore{ThemeCode: link.ThemeCode, Similarity: link.Similarity}
	}
	return scores, nil
}
