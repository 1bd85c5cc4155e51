package reid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingRing_FIFOEviction(t *testing.T) {
	r := newEmbeddingRing(3)

	r.push([]float32{1})
	r.push([]float32{2})
	r.push([]float32{3})
	r.push([]float32{4})

	require.Equal(t, 3, r.len())
	last := r.last(3)
	assert.Equal(t, []float32{2}, last[0])
	assert.Equal(t, []float32{3}, last[1])
	assert.Equal(t, []float32{4}, last[2])
}

func TestEmbeddingRing_LastClampsToSize(t *testing.T) {
	r := newEmbeddingRing(10)
	r.push([]float32{1})
	r.push([]float32{2})

	last := r.last(10)

	require.Len(t, last, 2)
}

func TestEmbeddingRing_EmptyLast(t *testing.T) {
	r := newEmbeddingRing(5)

	assert.Empty(t, r.last(5))
}
