package reverie

import (
	"context"
	"testing"
	"time"

	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/ai/mock"
	"github.com/noctiluca/reverie/chunk"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/narrative"
	"github.com/noctiluca/reverie/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = 8

	db, err := NewDatabase("",
		WithInMemoryStorage(),
		WithEmbedder(embedder),
		WithTokenCounter(chunk.WordCounter{}),
		WithAIConfig(ai.NewConfig(ai.WithDimension(8))),
		WithQueueConfig(queue.Config{
			JobTimeout:   30 * time.Second,
			ReapTimeout:  time.Minute,
			ReapInterval: time.Hour,
			PollInterval: 10 * time.Millisecond,
			Workers:      2,
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDatabase_DefaultsAreValid(t *testing.T) {
	db := newTestDatabase(t)

	assert.NotNil(t, db.JobRepository())
	assert.NotNil(t, db.ChunkRepository())
	assert.NotNil(t, db.ThemeRepository())
	assert.NotNil(t, db.FragmentRepository())
	assert.Equal(t, "embeddinggemma", db.EmbeddingVersion())
}

func TestNewDatabase_RejectsInvalidConfig(t *testing.T) {
	_, err := NewDatabase("", WithInMemoryStorage(), WithAIConfig(&ai.Config{Host: "h", Model: "m", Dimension: -1}))
	assert.Error(t, err)

	_, err = NewDatabase("", WithInMemoryStorage(), WithQueueConfig(queue.Config{
		JobTimeout:  time.Hour,
		ReapTimeout: time.Minute,
	}))
	assert.Error(t, err)
}

func TestDatabase_EndToEnd(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	cat, err := db.NewThemeCatalog()
	require.NoError(t, err)
	require.NoError(t, cat.Ingest(ctx, &core.Theme{
		Code:        "water",
		Label:       "Water",
		Description: "Dreams dominated by oceans, rivers, or rain.",
	}))

	ingestor, err := db.NewFragmentIngestor(0)
	require.NoError(t, err)
	require.NoError(t, ingestor.Ingest(ctx,
		&core.ReferenceFragment{
			Text:   "Water stands for the emotional undercurrent of the dreamer.",
			Source: "interpretations",
			Tags:   []string{"water"},
		},
		&core.ReferenceFragment{
			Text:   "Falling in a dream often marks a loss of control in waking life.",
			Source: "interpretations",
			Tags:   []string{"falling"},
		},
	))

	source := narrative.NewStaticSource(map[core.ID]string{
		1: "I was swimming through a flooded library, shelves drifting past " +
			"me in the dark water, and I kept diving for a book I could not reach.",
	})
	worker, err := db.NewWorker(source)
	require.NoError(t, err)
	manager, err := db.NewQueueManager()
	require.NoError(t, err)

	_, created, err := manager.Enqueue(ctx, core.ID(1), 0)
	require.NoError(t, err)
	require.True(t, created)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- worker.Run(runCtx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := manager.JobForNarrative(ctx, core.ID(1))
		if err == nil && job.Status == core.JobCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	chunks, err := db.ChunkRepository().GetChunks(ctx, core.ID(1), db.EmbeddingVersion())
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	retriever, err := db.NewRetriever()
	require.NoError(t, err)
	results, err := retriever.RetrieveText(ctx, "water and drowning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestDatabase_ReembedRunner(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	ingestor, err := db.NewFragmentIngestor(0)
	require.NoError(t, err)
	require.NoError(t, ingestor.Ingest(ctx, &core.ReferenceFragment{
		Text: "Teeth crumbling signals anxiety about appearance.",
	}))

	runner, err := db.NewReembedRunner(nil)
	require.NoError(t, err)
	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Themes)
	assert.Equal(t, 1, summary.Fragments)
}
