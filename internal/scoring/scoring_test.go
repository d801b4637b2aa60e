package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct{ id string }

func (i item) ScoreID() string { return i.id }

func TestDistanceToSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, DistanceToSimilarity(0))
	assert.Equal(t, 0.0, DistanceToSimilarity(math.NaN()))
	assert.Equal(t, 0.0, DistanceToSimilarity(math.Inf(1)))
	assert.InDelta(t, 0.5, DistanceToSimilarity(1.0), 1e-9)
}

func TestMinMaxNormalize(t *testing.T) {
	assert.Nil(t, MinMaxNormalize(nil))
	assert.Equal(t, []float64{1.0}, MinMaxNormalize([]float64{5.0}))
	assert.Equal(t, []float64{1.0, 1.0}, MinMaxNormalize([]float64{3.0, 3.0}))
	got := MinMaxNormalize([]float64{0.0, 5.0, 10.0})
	require.Len(t, got, 3)
	assert.InDelta(t, 0.0, got[0], 1e-9)
	assert.InDelta(t, 0.5, got[1], 1e-9)
	assert.InDelta(t, 1.0, got[2], 1e-9)
}

func TestFuseScores_GoldenChunkMultiplicative(t *testing.T) {
	w := DefaultFusionWeights()

	vectorOnly := FuseScores(Scores{Vector: optf(0.9)}, w)
	ftsOnly := FuseScores(Scores{FTS: optf(0.9)}, w)
	both := FuseScores(Scores{Vector: optf(0.5), FTS: optf(0.5)}, w)

	linear := 0.5*w.Vector + 0.5*w.FTS
	assert.InDelta(t, linear*(1+w.MultiBonus), both, 1e-9)
	assert.Greater(t, vectorOnly, ftsOnly) // vector weighted higher by default
}

func TestFuseScores_AdditiveForNonVectorFTSCombo(t *testing.T) {
	w := DefaultFusionWeights()
	got := FuseScores(Scores{Vector: optf(0.5), Graph: optf(0.5)}, w)
	want := ClampUnit(0.5*w.Vector+0.5*w.Graph + w.MultiBonus)
	assert.InDelta(t, want, got, 1e-9)
}

func TestFuseScores_ClampedToUnit(t *testing.T) {
	w := DefaultFusionWeights()
	got := FuseScores(Scores{Vector: optf(1.0), FTS: optf(1.0), Graph: optf(1.0)}, w)
	assert.Equal(t, 1.0, got)
}

func TestMergeScoredByID_TakesMax(t *testing.T) {
	target := map[string]Scored[item]{}
	MergeScoredByID(target, []Scored[item]{
		{Item: item{"a"}, Score: Scores{Vector: optf(0.3)}},
	})
	MergeScoredByID(target, []Scored[item]{
		{Item: item{"a"}, Score: Scores{Vector: optf(0.8), FTS: optf(0.1)}},
	})
	require.Contains(t, target, "a")
	assert.InDelta(t, 0.8, *target["a"].Score.Vector, 1e-9)
	assert.InDelta(t, 0.1, *target["a"].Score.FTS, 1e-9)
}

func TestSortByFusedDesc_TieBreaksByID(t *testing.T) {
	items := []Scored[item]{
		{Item: item{"b"}, Fused: 0.5},
		{Item: item{"a"}, Fused: 0.5},
		{Item: item{"c"}, Fused: 0.9},
	}
	SortByFusedDesc(items)
	assert.Equal(t, []string{"c", "a", "b"}, []string{items[0].Item.id, items[1].Item.id, items[2].Item.id})
}

func TestReciprocalRankFusion_GoldenChunkRanksFirst(t *testing.T) {
	vec := []Scored[item]{
		{Item: item{"A"}, Score: Scores{Vector: optf(0.99)}},
		{Item: item{"GOLDEN"}, Score: Scores{Vector: optf(0.5)}},
	}
	fts := []Scored[item]{
		{Item: item{"B"}, Score: Scores{FTS: optf(0.99)}},
		{Item: item{"GOLDEN"}, Score: Scores{FTS: optf(0.5)}},
	}
	fused := ReciprocalRankFusion(vec, fts, DefaultRrfConfig())
	require.NotEmpty(t, fused)
	assert.Equal(t, "GOLDEN", fused[0].Item.id)
}

func TestReciprocalRankFusion_EmptySideReducesToOtherRanking(t *testing.T) {
	vec := []Scored[item]{
		{Item: item{"A"}, Score: Scores{Vector: optf(0.9)}},
		{Item: item{"B"}, Score: Scores{Vector: optf(0.1)}},
	}
	fused := ReciprocalRankFusion(vec, nil, DefaultRrfConfig())
	require.Len(t, fused, 2)
	assert.Equal(t, "A", fused[0].Item.id)
	assert.Equal(t, "B", fused[1].Item.id)
}
