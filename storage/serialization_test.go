package storage

import (
	"testing"
	"time"

	"github.com/noctiluca/reverie/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &core.EmbeddingJob{
		Id:          7,
		NarrativeId: 42,
		Status:      core.JobProcessing,
		Priority:    -5,
		Attempts:    2,
		MaxAttempts: 3,
		ScheduledAt: now.Add(-time.Minute),
		StartedAt:   now,
		LastError:   "embedding call failed: connection refused",
	}

	decoded, err := UnmarshalJob(MarshalJob(job))
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestJobRoundTrip_NegativePriority(t *testing.T) {
	job := &core.EmbeddingJob{
		Id:          1,
		NarrativeId: 1,
		Status:      core.JobPending,
		Priority:    -1000000,
		MaxAttempts: 3,
	}

	decoded, err := UnmarshalJob(MarshalJob(job))
	require.NoError(t, err)
	assert.Equal(t, -1000000, decoded.Priority)
}

func TestJobRoundTrip_ZeroTimesSurvive(t *testing.T) {
	job := &core.EmbeddingJob{
		Id:          1,
		NarrativeId: 1,
		Status:      core.JobPending,
		MaxAttempts: 3,
	}

	decoded, err := UnmarshalJob(MarshalJob(job))
	require.NoError(t, err)
	assert.True(t, decoded.ScheduledAt.IsZero())
	assert.True(t, decoded.StartedAt.IsZero())
	assert.True(t, decoded.CompletedAt.IsZero())
}

func TestChunkRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	chunk := &core.EmbeddingChunk{
		NarrativeId:      42,
		ChunkIndex:       3,
		EmbeddingVersion: "embeddinggemma",
		Vector:           []float32{0.6, 0.8, 0, -0.125},
		SourceText:       "I was walking along a riverbank at dusk.",
		TokenCount:       9,
		ProcessingTimeMs: 87,
		InsertedAt:       now,
	}

	decoded, err := UnmarshalChunk(MarshalChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestThemeRoundTrip_SparseMapIsDeterministic(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	theme := &core.Theme{
		Code:        "water",
		Label:       "Water",
		Description: "Dreams dominated by oceans, rivers, or rain.",
		Vector:      []float32{0, 1, 0},
		Sparse:      map[string]float32{"water": 1.0, "ocean": 0.8, "rain": 0.6},
		Version:     "embeddinggemma",
		InsertedAt:  now,
		UpdatedAt:   now,
	}

	first := MarshalTheme(theme)
	second := MarshalTheme(theme)
	assert.Equal(t, first, second, "map iteration order must not leak into the encoding")

	decoded, err := UnmarshalTheme(first)
	require.NoError(t, err)
	assert.Equal(t, theme, decoded)
}

func TestThemeLinkRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	link := &core.ThemeLink{
		NarrativeId: 42,
		ThemeCode:   "falling",
		Similarity:  0.875,
		ChunkIndex:  2,
		ExtractedAt: now,
	}

	decoded, err := UnmarshalThemeLink(MarshalThemeLink(link))
	require.NoError(t, err)
	assert.Equal(t, link, decoded)
}

func TestFragmentRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	fragment := &core.ReferenceFragment{
		Id:         core.IDFromContent("Water stands for the emotional undercurrent."),
		Text:       "Water stands for the emotional undercurrent.",
		Source:     "interpretations",
		Chapter:    "3",
		Vector:     []float32{0.5, 0.5, 0.5, 0.5},
		Sparse:     map[string]float32{"water": 1.0},
		Tags:       []string{"water", "emotion"},
		InsertedAt: now,
		UpdatedAt:  now,
	}

	decoded, err := UnmarshalFragment(MarshalFragment(fragment))
	require.NoError(t, err)
	assert.Equal(t, fragment, decoded)
}

func TestFragmentRoundTrip_EmptyCollections(t *testing.T) {
	fragment := &core.ReferenceFragment{
		Id:   1,
		Text: "Bare fragment.",
	}

	decoded, err := UnmarshalFragment(MarshalFragment(fragment))
	require.NoError(t, err)
	assert.Nil(t, decoded.Vector)
	assert.Nil(t, decoded.Sparse)
	assert.Nil(t, decoded.Tags)
}

func TestUnmarshal_TruncatedData(t *testing.T) {
	job := &core.EmbeddingJob{
		Id:          7,
		NarrativeId: 42,
		Status:      core.JobPending,
		MaxAttempts: 3,
		LastError:   "some error text",
	}
	encoded := MarshalJob(job)

	_, err := UnmarshalJob(encoded[:len(encoded)-4])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalTheme([]byte{0x05})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestIDRoundTrip(t *testing.T) {
	for _, id := range []core.ID{0, 1, 127, 128, 1 << 63} {
		decoded, err := UnmarshalID(MarshalID(id))
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}

	_, err := UnmarshalID(nil)
	assert.Error(t, err)
}
