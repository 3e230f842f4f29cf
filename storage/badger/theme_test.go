package badger

import (
	"context"
	"testing"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTheme(code, label string) *core.Theme {
	return &core.Theme{
		Code:       code,
		Label:      label,
		Vector:     []float32{0.5, 0.5},
		Version:    "v1",
		InsertedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestUpsertThemes_KeyedByCode(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Themes.UpsertThemes(ctx, testTheme("falling", "Falling")))
	// Same code collapses into one entry
	require.NoError(t, repos.Themes.UpsertThemes(ctx, testTheme("falling", "Falling (revised)")))

	theme, err := repos.Themes.GetTheme(ctx, "falling")
	require.NoError(t, err)
	assert.Equal(t, "Falling (revised)", theme.Label)

	all, err := repos.Themes.GetAllThemes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetTheme_NotFound(t *testing.T) {
	repos := newTestRepositories(t)

	_, err := repos.Themes.GetTheme(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetAllThemes_OrderedByCode(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Themes.UpsertThemes(ctx,
		testTheme("water", "Water"),
		testTheme("falling", "Falling"),
		testTheme("pursuit", "Pursuit"),
	))

	all, err := repos.Themes.GetAllThemes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "falling", all[0].Code)
	assert.Equal(t, "pursuit", all[1].Code)
	assert.Equal(t, "water", all[2].Code)
}

func TestUpsertThemeLinks_HigherSimilarityWins(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repos.Themes.UpsertThemeLinks(ctx, &core.ThemeLink{
		NarrativeId: 1, ThemeCode: "falling", Similarity: 0.7, ChunkIndex: 2, ExtractedAt: now,
	}))

	// A lower similarity must not degrade the stored link
	require.NoError(t, repos.Themes.UpsertThemeLinks(ctx, &core.ThemeLink{
		NarrativeId: 1, ThemeCode: "falling", Similarity: 0.4, ChunkIndex: 0, ExtractedAt: now,
	}))

	links, err := repos.Themes.GetThemeLinks(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.7, links[0].Similarity, 0.0001)
	assert.Equal(t, 2, links[0].ChunkIndex)

	// A higher similarity replaces it
	require.NoError(t, repos.Themes.UpsertThemeLinks(ctx, &core.ThemeLink{
		NarrativeId: 1, ThemeCode: "falling", Similarity: 0.9, ChunkIndex: 1, ExtractedAt: now,
	}))

	links, err = repos.Themes.GetThemeLinks(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.9, links[0].Similarity, 0.0001)
}

func TestGetThemeLinks_OrderingAndThreshold(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repos.Themes.UpsertThemeLinks(ctx,
		&core.ThemeLink{NarrativeId: 1, ThemeCode: "water", Similarity: 0.8, ExtractedAt: now},
		&core.ThemeLink{NarrativeId: 1, ThemeCode: "falling", Similarity: 0.8, ExtractedAt: now},
		&core.ThemeLink{NarrativeId: 1, ThemeCode: "pursuit", Similarity: 0.95, ExtractedAt: now},
		&core.ThemeLink{NarrativeId: 1, ThemeCode: "teeth", Similarity: 0.2, ExtractedAt: now},
		&core.ThemeLink{NarrativeId: 2, ThemeCode: "water", Similarity: 0.99, ExtractedAt: now},
	))

	links, err := repos.Themes.GetThemeLinks(ctx, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, links, 3)

	// Similarity descending, ties broken by code ascending
	assert.Equal(t, "pursuit", links[0].ThemeCode)
	assert.Equal(t, "falling", links[1].ThemeCode)
	assert.Equal(t, "water", links[2].ThemeCode)
}
