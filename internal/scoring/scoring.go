// Package scoring implements spec.md §4.4: subscore normalization, weighted
// fusion with the "golden chunk" multi-signal bonus, and reciprocal-rank
// fusion. The algorithm and its constants are ported from the pre-distillation
// reference implementation's retrieval-pipeline/src/scoring.rs (see
// DESIGN.md) rather than re-derived, since spec.md treats the exact fusion
// rule as load-bearing behavior, not an implementation detail.
package scoring

import (
	"math"
	"sort"
)

// Scores holds the optional subscores gathered from different retrieval
// signals for a single candidate.
type Scores struct {
	FTS    *float64
	Vector *float64
	Graph  *float64
}

func optf(v float64) *float64 { return &v }

// Identifiable is implemented by anything scoring can merge and sort by a
// stable id.
type Identifiable interface {
	ScoreID() string
}

// Scored wraps an item with its accumulated retrieval scores.
type Scored[T Identifiable] struct {
	Item  T
	Score Scores
	Fused float64
}

// WithVectorScore returns a copy of s with the vector subscore set.
func (s Scored[T]) WithVectorScore(v float64) Scored[T] { s.Score.Vector = optf(v); return s }

// WithFTSScore returns a copy of s with the fts subscore set.
func (s Scored[T]) WithFTSScore(v float64) Scored[T] { s.Score.FTS = optf(v); return s }

// WithGraphScore returns a copy of s with the graph subscore set.
func (s Scored[T]) WithGraphScore(v float64) Scored[T] { s.Score.Graph = optf(v); return s }

// FusionWeights are the linear fusion weights (spec.md §4.4 defaults).
type FusionWeights struct {
	Vector     float64
	FTS        float64
	Graph      float64
	MultiBonus float64
}

// DefaultFusionWeights matches the reference implementation's defaults:
// vector favored over fts, with a sizeable multi-signal "golden chunk" bonus.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Vector: 0.8, FTS: 0.2, Graph: 0.2, MultiBonus: 0.3}
}

// RrfConfig configures reciprocal rank fusion.
type RrfConfig struct {
	K           float64
	VectorWeight float64
	FTSWeight    float64
	UseVector    bool
	UseFTS       bool
}

// DefaultRrfConfig matches the reference implementation's defaults.
func DefaultRrfConfig() RrfConfig {
	return RrfConfig{K: 60.0, VectorWeight: 1.0, FTSWeight: 1.0, UseVector: true, UseFTS: true}
}

// ClampUnit clamps v into [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DistanceToSimilarity maps a vector distance to a [0,1] similarity. NaN and
// infinite distances map to 0; spec.md §8 requires distance_to_similarity(0)
// == 1.0 exactly.
func DistanceToSimilarity(distance float64) float64 {
	if math.IsNaN(distance) || math.IsInf(distance, 0) {
		return 0.0
	}
	if distance < 0 {
		distance = 0
	}
	return ClampUnit(1.0 / (1.0 + distance))
}

// MinMaxNormalize min-max normalizes a batch of scores into [0,1]. Empty
// input returns empty output; a degenerate (near-zero range) batch returns
// all 1.0s; non-finite inputs are excluded from the min/max scan and mapped
// to 0.0 individually (spec.md §8).
func MinMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if math.IsInf(min, 0) || math.IsInf(max, 0) {
		out := make([]float64, len(scores))
		return out // all zero
	}
	out := make([]float64, len(scores))
	if math.Abs(max-min) < 1e-7 {
		for i, s := range scores {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				continue
			}
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			out[i] = 0.0
			continue
		}
		out[i] = ClampUnit((s - min) / (max - min))
	}
	return out
}

// FuseScores implements the golden-chunk fusion rule (spec.md §4.4):
//
//	fused = w_v*vector + w_f*fts + w_g*graph
//	if vector and fts both present:  fused *= (1 + multi_bonus)
//	else if >=2 signals present:     fused += multi_bonus
//	fused = clamp(fused, 0, 1)
func FuseScores(s Scores, w FusionWeights) float64 {
	vector := deref(s.Vector)
	fts := deref(s.FTS)
	graph := deref(s.Graph)

	fused := vector*w.Vector + fts*w.FTS + graph*w.Graph

	signals := 0
	if s.Vector != nil {
		signals++
	}
	if s.FTS != nil {
		signals++
	}
	if s.Graph != nil {
		signals++
	}

	if signals >= 2 {
		if s.Vector != nil && s.FTS != nil {
			fused = fused * (1.0 + w.MultiBonus)
		} else {
			fused += w.MultiBonus
		}
	}

	return ClampUnit(fused)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// MergeScoredByID merges incoming scored items into target, keyed by
// ScoreID(). When the same id appears more than once, each subscore takes
// the maximum rather than overwriting, so a weak lexical hit cannot erase a
// strong vector hit (spec.md §4.4 "Merging by id").
func MergeScoredByID[T Identifiable](target map[string]Scored[T], incoming []Scored[T]) {
	for _, sc := range incoming {
		id := sc.Item.ScoreID()
		existing, ok := target[id]
		if !ok {
			target[id] = sc
			continue
		}
		if sc.Score.Vector != nil && (existing.Score.Vector == nil || *sc.Score.Vector > *existing.Score.Vector) {
			existing.Score.Vector = sc.Score.Vector
		}
		if sc.Score.FTS != nil && (existing.Score.FTS == nil || *sc.Score.FTS > *existing.Score.FTS) {
			existing.Score.FTS = sc.Score.FTS
		}
		if sc.Score.Graph != nil && (existing.Score.Graph == nil || *sc.Score.Graph > *existing.Score.Graph) {
			existing.Score.Graph = sc.Score.Graph
		}
		target[id] = existing
	}
}

// SortByFusedDesc sorts items descending by Fused, tie-breaking ascending by
// ScoreID() for determinism (spec.md §4.4, §8).
func SortByFusedDesc[T Identifiable](items []Scored[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Fused != items[j].Fused {
			return items[i].Fused > items[j].Fused
		}
		return items[i].Item.ScoreID() < items[j].Item.ScoreID()
	})
}

// ReciprocalRankFusion merges independently-ranked vector and fts candidate
// lists via RRF: score += weight / (k + rank + 1), accumulated per source,
// with per-subscore max-merge across sources (spec.md §4.4).
func ReciprocalRankFusion[T Identifiable](vectorRanked, ftsRanked []Scored[T], cfg RrfConfig) []Scored[T] {
	k := cfg.K
	if k <= 0 {
		k = 60.0
	}
	vw := cfg.VectorWeight
	if math.IsNaN(vw) || math.IsInf(vw, 0) || vw < 0 {
		vw = 0
	}
	fw := cfg.FTSWeight
	if math.IsNaN(fw) || math.IsInf(fw, 0) || fw < 0 {
		fw = 0
	}

	merged := make(map[string]Scored[T])

	if cfg.UseVector && len(vectorRanked) > 0 {
		ranked := append([]Scored[T](nil), vectorRanked...)
		sort.SliceStable(ranked, func(i, j int) bool {
			a, b := deref(ranked[i].Score.Vector), deref(ranked[j].Score.Vector)
			if a != b {
				return a > b
			}
			return ranked[i].Item.ScoreID() < ranked[j].Item.ScoreID()
		})
		for rank, cand := range ranked {
			id := cand.Item.ScoreID()
			entry, ok := merged[id]
			if !ok {
				entry = Scored[T]{Item: cand.Item}
			}
			if cand.Score.Vector != nil {
				if entry.Score.Vector == nil || *cand.Score.Vector > *entry.Score.Vector {
					entry.Score.Vector = cand.Score.Vector
				}
			}
			entry.Item = cand.Item
			entry.Fused += vw / (k + float64(rank) + 1.0)
			merged[id] = entry
		}
	}

	if cfg.UseFTS && len(ftsRanked) > 0 {
		ranked := append([]Scored[T](nil), ftsRanked...)
		sort.SliceStable(ranked, func(i, j int) bool {
			a, b := deref(ranked[i].Score.FTS), deref(ranked[j].Score.FTS)
			if a != b {
				return a > b
			}
			return ranked[i].Item.ScoreID() < ranked[j].Item.ScoreID()
		})
		for rank, cand := range ranked {
			id := cand.Item.ScoreID()
			entry, ok := merged[id]
			if !ok {
				entry = Scored[T]{Item: cand.Item}
			}
			if cand.Score.FTS != nil {
				if entry.Score.FTS == nil || *cand.Score.FTS > *entry.Score.FTS {
					entry.Score.FTS = cand.Score.FTS
				}
			}
			entry.Item = cand.Item
			entry.Fused += fw / (k + float64(rank) + 1.0)
			merged[id] = entry
		}
	}

	out := make([]Scored[T], 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	SortByFusedDesc(out)
	return out
}
