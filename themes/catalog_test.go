package themes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/noctiluca/reverie/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedJSON = `[
  {"code": "falling", "label": "Falling", "description": "Dreams of falling or losing footing"},
  {"code": "water", "label": "Water", "description": "Oceans, rivers, rain, drowning"},
  {"code": "falling", "label": "Falling (revised)", "description": "Sudden loss of support", "keywords": {"falling": 1.0, "cliff": 0.6}}
]`

func writeSeedFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "themes.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadSeedFile_DedupesByCode(t *testing.T) {
	themes, err := LoadSeedFile(writeSeedFile(t, seedJSON))
	require.NoError(t, err)
	require.Len(t, themes, 2)

	assert.Equal(t, "falling", themes[0].Code)
	assert.Equal(t, "Falling (revised)", themes[0].Label, "last duplicate wins")
	assert.Equal(t, "water", themes[1].Code)
}

func TestLoadSeedFile_RejectsInvalid(t *testing.T) {
	_, err := LoadSeedFile(writeSeedFile(t, `[{"code": "", "label": "Broken"}]`))
	assert.Error(t, err)

	_, err = LoadSeedFile(writeSeedFile(t, `not json`))
	assert.Error(t, err)
}

func TestCatalog_Ingest(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = 8

	catalog, err := NewCatalog(repos.Themes, embedder, "v1")
	require.NoError(t, err)

	themes, err := LoadSeedFile(writeSeedFile(t, seedJSON))
	require.NoError(t, err)
	require.NoError(t, catalog.Ingest(ctx, themes...))

	stored, err := catalog.Themes(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	for _, theme := range stored {
		assert.Len(t, theme.Vector, 8)
		assert.Equal(t, "v1", theme.Version)
		assert.False(t, theme.UpdatedAt.IsZero())
	}

	// Keywords survive the round trip
	falling, err := repos.Themes.GetTheme(ctx, "falling")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, falling.Sparse["cliff"], 0.0001)
}

func TestCatalog_IngestIdempotent(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = 8

	catalog, err := NewCatalog(repos.Themes, embedder, "v1")
	require.NoError(t, err)

	themes, err := LoadSeedFile(writeSeedFile(t, seedJSON))
	require.NoError(t, err)
	require.NoError(t, catalog.Ingest(ctx, themes...))

	// Re-seeding keeps the catalog a set
	again, err := LoadSeedFile(writeSeedFile(t, seedJSON))
	require.NoError(t, err)
	require.NoError(t, catalog.Ingest(ctx, again...))

	stored, err := catalog.Themes(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
