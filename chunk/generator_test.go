package chunk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/noctiluca/reverie/ai/mock"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, cfg GeneratorConfig) (*Generator, *badger.Repositories, *mock.MockEmbedder) {
	t.Helper()

	repos, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		repos.Close()
		backend.Close()
	})

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = cfg.Dimension

	gen, err := NewGenerator(repos.Chunks, embedder, WordCounter{}, cfg)
	require.NoError(t, err)
	return gen, repos, embedder
}

func longNarrative() string {
	return strings.Repeat("I was walking through a house that kept growing new rooms. ", 20)
}

func TestGenerator_ProcessStoresChunks(t *testing.T) {
	gen, repos, _ := newTestGenerator(t, GeneratorConfig{
		Dimension: 8,
		Version:   "v1",
		ChunkSize: 40, ChunkOverlap: 5,
	})
	ctx := context.Background()

	result, err := gen.Process(ctx, 1, longNarrative())
	require.NoError(t, err)
	assert.Greater(t, result.Chunks, 1, "long narrative should split into multiple chunks")
	assert.Greater(t, result.Tokens, 0)

	stored, err := repos.Chunks.GetChunks(ctx, 1, "v1")
	require.NoError(t, err)
	require.Len(t, stored, result.Chunks)

	for i, chunk := range stored {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Len(t, chunk.Vector, 8)
		assert.NotEmpty(t, chunk.SourceText)
		assert.Greater(t, chunk.TokenCount, 0)

		// Vectors are normalized before storage
		var sumSquares float64
		for _, v := range chunk.Vector {
			sumSquares += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, sumSquares, 0.001)
	}
}

func TestGenerator_ShortNarrativeIneligible(t *testing.T) {
	gen, repos, embedder := newTestGenerator(t, GeneratorConfig{
		Dimension: 8,
		Version:   "v1",
	})
	ctx := context.Background()

	// 30 characters, below the 50-rune minimum
	_, err := gen.Process(ctx, 2, "I dreamed about a small boat.")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIneligible)
	assert.ErrorIs(t, err, ErrTextTooShort)
	assert.NotErrorIs(t, err, core.ErrPermanent)

	// No chunks written and no provider call made
	stored, err := repos.Chunks.GetChunks(ctx, 2, "v1")
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, embedder.CallCount())
}

func TestGenerator_DimensionMismatchIsPermanent(t *testing.T) {
	gen, repos, embedder := newTestGenerator(t, GeneratorConfig{
		Dimension: 8,
		Version:   "v1",
	})
	ctx := context.Background()

	// Provider returns 4-dimensional vectors against a configured 8
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = mock.DeterministicVector(texts[i], 4)
		}
		return vectors, nil
	}

	_, err := gen.Process(ctx, 3, longNarrative())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPermanent)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	stored, err := repos.Chunks.GetChunks(ctx, 3, "v1")
	require.NoError(t, err)
	assert.Empty(t, stored, "no partial chunks on dimension mismatch")
}

func TestGenerator_TransientProviderError(t *testing.T) {
	gen, _, embedder := newTestGenerator(t, GeneratorConfig{
		Dimension: 8,
		Version:   "v1",
	})
	ctx := context.Background()

	providerDown := errors.New("connection refused")
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, providerDown
	}

	_, err := gen.Process(ctx, 4, longNarrative())
	require.Error(t, err)
	assert.ErrorIs(t, err, providerDown)
	assert.NotErrorIs(t, err, core.ErrPermanent)
	assert.NotErrorIs(t, err, core.ErrIneligible)
	// In-process retries happened before giving up
	assert.Greater(t, embedder.CallCount(), 1)
}

func TestGenerator_BatchMismatch(t *testing.T) {
	gen, _, embedder := newTestGenerator(t, GeneratorConfig{
		Dimension: 8,
		Version:   "v1",
		ChunkSize: 40, ChunkOverlap: 5,
	})
	ctx := context.Background()

	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{mock.DeterministicVector("only one", 8)}, nil
	}

	_, err := gen.Process(ctx, 5, longNarrative())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchMismatch)
}

func TestGenerator_Idempotent(t *testing.T) {
	gen, repos, _ := newTestGenerator(t, GeneratorConfig{
		Dimension: 8,
		Version:   "v1",
	})
	ctx := context.Background()

	text := longNarrative()
	first, err := gen.Process(ctx, 6, text)
	require.NoError(t, err)

	// Same narrative again, e.g. after a stale-job requeue
	second, err := gen.Process(ctx, 6, text)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)

	stored, err := repos.Chunks.GetChunks(ctx, 6, "v1")
	require.NoError(t, err)
	assert.Len(t, stored, first.Chunks, "re-run must not duplicate chunks")
}
