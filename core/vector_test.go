package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVector(t *testing.T) {
	normalized := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, normalized[0], 0.0001)
	assert.InDelta(t, 0.8, normalized[1], 0.0001)

	var magnitude float64
	for _, v := range normalized {
		magnitude += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(magnitude), 0.0001)
}

func TestNormalizeVector_DoesNotMutateInput(t *testing.T) {
	input := []float32{3, 4}
	NormalizeVector(input)
	assert.Equal(t, []float32{3, 4}, input)
}

func TestNormalizeVector_ZeroVector(t *testing.T) {
	assert.Equal(t, []float32{0, 0, 0}, NormalizeVector([]float32{0, 0, 0}))
	assert.Empty(t, NormalizeVector(nil))
}

func TestDotProduct(t *testing.T) {
	assert.InDelta(t, 11.0, DotProduct([]float32{1, 2}, []float32{3, 4}), 0.0001)
	assert.InDelta(t, 0.0, DotProduct([]float32{1, 0}, []float32{0, 1}), 0.0001)

	// Extra dimensions beyond the shorter vector are ignored
	assert.InDelta(t, 3.0, DotProduct([]float32{1, 2, 5}, []float32{3}), 0.0001)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 0.0001)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.0001)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 0.0001)

	root2 := float32(1 / math.Sqrt2)
	assert.InDelta(t, root2, CosineSimilarity([]float32{1, 0}, []float32{1, 1}), 0.0001)
}

func TestCosineSimilarity_DegenerateInputs(t *testing.T) {
	assert.Zero(t, CosineSimilarity(nil, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
