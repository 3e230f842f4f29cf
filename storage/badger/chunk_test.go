package badger

import (
	"context"
	"testing"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunk(narrativeID core.ID, index int, version string, text string) *core.EmbeddingChunk {
	return &core.EmbeddingChunk{
		NarrativeId:      narrativeID,
		ChunkIndex:       index,
		EmbeddingVersion: version,
		Vector:           []float32{0.1, 0.2, 0.3},
		SourceText:       text,
		TokenCount:       4,
		InsertedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestUpsertChunks_RoundTrip(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	chunks := []*core.EmbeddingChunk{
		testChunk(1, 0, "v1", "first chunk"),
		testChunk(1, 1, "v1", "second chunk"),
		testChunk(1, 2, "v1", "third chunk"),
	}
	require.NoError(t, repos.Chunks.UpsertChunks(ctx, chunks...))

	stored, err := repos.Chunks.GetChunks(ctx, 1, "v1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, chunk := range stored {
		assert.Equal(t, i, chunk.ChunkIndex)
	}
	assert.Equal(t, "first chunk", stored[0].SourceText)
}

func TestUpsertChunks_Idempotent(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	first := testChunk(1, 0, "v1", "original text")
	require.NoError(t, repos.Chunks.UpsertChunks(ctx, first))

	// Rewriting the same key replaces, never duplicates
	second := testChunk(1, 0, "v1", "replacement text")
	require.NoError(t, repos.Chunks.UpsertChunks(ctx, second))

	stored, err := repos.Chunks.GetChunks(ctx, 1, "v1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "replacement text", stored[0].SourceText)
}

func TestGetChunks_VersionIsolation(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Chunks.UpsertChunks(ctx,
		testChunk(1, 0, "v1", "old model"),
		testChunk(1, 0, "v2", "new model"),
	))

	v1, err := repos.Chunks.GetChunks(ctx, 1, "v1")
	require.NoError(t, err)
	require.Len(t, v1, 1)
	assert.Equal(t, "old model", v1[0].SourceText)

	v2, err := repos.Chunks.GetChunks(ctx, 1, "v2")
	require.NoError(t, err)
	require.Len(t, v2, 1)
	assert.Equal(t, "new model", v2[0].SourceText)
}

func TestGetChunks_OrderedByIndex(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	// Insert out of order
	require.NoError(t, repos.Chunks.UpsertChunks(ctx,
		testChunk(1, 5, "v1", "five"),
		testChunk(1, 0, "v1", "zero"),
		testChunk(1, 12, "v1", "twelve"),
	))

	stored, err := repos.Chunks.GetChunks(ctx, 1, "v1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, []int{0, 5, 12}, []int{stored[0].ChunkIndex, stored[1].ChunkIndex, stored[2].ChunkIndex})
}

func TestDeleteChunks(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Chunks.UpsertChunks(ctx,
		testChunk(1, 0, "v1", "keep other version"),
		testChunk(1, 0, "v2", "survives"),
	))

	require.NoError(t, repos.Chunks.DeleteChunks(ctx, 1, "v1"))

	v1, err := repos.Chunks.GetChunks(ctx, 1, "v1")
	require.NoError(t, err)
	assert.Empty(t, v1)

	v2, err := repos.Chunks.GetChunks(ctx, 1, "v2")
	require.NoError(t, err)
	assert.Len(t, v2, 1)

	// Deleting an empty version is not an error
	require.NoError(t, repos.Chunks.DeleteChunks(ctx, 1, "v1"))
}

func TestUpsertChunks_RejectsColonInVersion(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	chunk := testChunk(1, 0, "v1:bad", "text")
	err := repos.Chunks.UpsertChunks(ctx, chunk)
	assert.ErrorIs(t, err, core.ErrInvalidChunk)
}
