package retrieval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorSimilarities_NonDegenerateRange_InvertsMinMax(t *testing.T) {
	sims := vectorSimilarities([]float64{0.0, 1.0, 2.0})
	assert.InDelta(t, 1.0, sims[0], 1e-9, "smallest distance should map to highest similarity")
	assert.InDelta(t, 0.0, sims[2], 1e-9, "largest distance should map to lowest similarity")
	assert.InDelta(t, 0.5, sims[1], 1e-9)
}

func TestVectorSimilarities_DegenerateRange_FallsBackPerItem(t *testing.T) {
	sims := vectorSimilarities([]float64{0.0, 0.0, 0.0})
	for _, s := range sims {
		assert.InDelta(t, 1.0, s, 1e-9, "distance 0 maps to similarity 1 under the per-item fallback")
	}
}

func TestVectorSimilarities_NonFiniteValues_MapToZero(t *testing.T) {
	sims := vectorSimilarities([]float64{0.0, math.Inf(1), math.NaN()})
	assert.InDelta(t, 0.0, sims[1], 1e-9)
	assert.InDelta(t, 0.0, sims[2], 1e-9)
}

func TestVectorSimilarities_Empty(t *testing.T) {
	assert.Empty(t, vectorSimilarities(nil))
}
