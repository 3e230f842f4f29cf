package narrative

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/noctiluca/reverie/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSource_ReadsNarrativeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "42.txt"), []byte("I dreamed of a long hallway."), 0644))

	source, err := NewDirSource(dir)
	require.NoError(t, err)

	text, err := source.NarrativeText(context.Background(), core.ID(42))
	require.NoError(t, err)
	assert.Equal(t, "I dreamed of a long hallway.", text)
}

func TestDirSource_MissingFile(t *testing.T) {
	source, err := NewDirSource(t.TempDir())
	require.NoError(t, err)

	_, err = source.NarrativeText(context.Background(), core.ID(7))
	assert.ErrorIs(t, err, ErrNarrativeNotFound)
}

func TestNewDirSource_RejectsFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := NewDirSource(path)
	assert.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	source := NewStaticSource(map[core.ID]string{
		1: "I was flying over the city.",
	})

	text, err := source.NarrativeText(context.Background(), core.ID(1))
	require.NoError(t, err)
	assert.Equal(t, "I was flying over the city.", text)

	_, err = source.NarrativeText(context.Background(), core.ID(2))
	assert.ErrorIs(t, err, ErrNarrativeNotFound)

	source.Put(core.ID(2), "I was back in my childhood home.")
	text, err = source.NarrativeText(context.Background(), core.ID(2))
	require.NoError(t, err)
	assert.Equal(t, "I was back in my childhood home.", text)
}
