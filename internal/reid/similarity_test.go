package reid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{4, 3, 2, 1}

	assert.InDelta(t, cosineSimilarity(a, b), cosineSimilarity(b, a), 1e-6)
}

func TestCosineSimilarity_Identical(t *testing.T) {
	a := []float32{0.3, 0.4, 0.5, 0.1}

	assert.InDelta(t, float32(1.0), cosineSimilarity(a, a), 1e-6)
}

func TestCosineSimilarity_ZeroVectors(t *testing.T) {
	zero := make([]float32, 256)

	s := cosineSimilarity(zero, zero)

	assert.False(t, math.IsNaN(float64(s)))
	assert.Equal(t, float32(0), s)
}

func TestCosineSimilarity_ShapeMismatch(t *testing.T) {
	a := make([]float32, 256)
	b := make([]float32, 128)

	assert.Equal(t, float32(0), cosineSimilarity(a, b))
}

func TestCosineSimilarity_ClampsToUnitInterval(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}

	s := cosineSimilarity(a, b)

	assert.GreaterOrEqual(t, s, float32(0))
	assert.LessOrEqual(t, s, float32(1))
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	assert.InDelta(t, float32(0), cosineSimilarity(a, b), 1e-6)
}
