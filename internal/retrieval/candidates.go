package retrieval

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/scoring"
	"knowledgecore/internal/store"
)

// entityCand adapts domain.KnowledgeEntity to scoring.Identifiable.
type entityCand struct {
	Entity domain.KnowledgeEntity
}

func (e entityCand) ScoreID() string { return e.Entity.ID }

// chunkCand adapts domain.TextChunk to scoring.Identifiable.
type chunkCand struct {
	Chunk domain.TextChunk
}

func (c chunkCand) ScoreID() string { return c.Chunk.ID }

// vectorSimilarities converts a batch of raw distances to [0,1] similarities
// per spec.md §4.3 stage 2: "if the batch spans a finite, non-degenerate
// range, min-max normalise within the batch [then invert, since a smaller
// distance is a larger similarity]; else map each value individually via
// 1/(1+max(d,0))."
func vectorSimilarities(distances []float64) []float64 {
	out := make([]float64, len(distances))
	if len(distances) == 0 {
		return out
	}
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, d := range distances {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	finiteRange := !math.IsInf(min, 0) && !math.IsInf(max, 0) && math.Abs(max-min) >= 1e-7
	if !finiteRange {
		for i, d := range distances {
			out[i] = scoring.DistanceToSimilarity(d)
		}
		return out
	}
	for i, d := range distances {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			out[i] = 0
			continue
		}
		normalized := (d - min) / (max - min)
		out[i] = scoring.ClampUnit(1.0 - normalized)
	}
	return out
}

// collectEntityCandidates fans out the vector and FTS searches for an
// entity-centric strategy and merges them by id (spec.md §4.3 stage 2).
func (p *Pipeline) collectEntityCandidates(ctx context.Context, req Request, vector []float32) (map[string]scoring.Scored[entityCand], error) {
	merged := make(map[string]scoring.Scored[entityCand])
	var vecResults []store.VectorResult
	var ftsResults []store.FTSResult

	g, gctx := errgroup.WithContext(ctx)
	if vector != nil {
		g.Go(func() error {
			r, err := p.store.SearchEntitiesByVector(gctx, req.UserID, vector, req.Tuning.VectorK)
			if err != nil {
				return err
			}
			vecResults = r
			return nil
		})
	}
	if req.Query != "" {
		g.Go(func() error {
			r, err := p.store.SearchEntitiesByText(gctx, req.UserID, req.Query, req.Tuning.FTSK)
			if err != nil {
				return err
			}
			ftsResults = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make(map[string]struct{})
	for _, r := range vecResults {
		ids[r.ID] = struct{}{}
	}
	for _, r := range ftsResults {
		ids[r.ID] = struct{}{}
	}
	if len(ids) == 0 {
		return merged, nil
	}
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	entities, err := p.store.GetEntitiesByIDs(ctx, idList)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.KnowledgeEntity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	if len(vecResults) > 0 {
		distances := make([]float64, len(vecResults))
		for i, r := range vecResults {
			distances[i] = r.Distance
		}
		sims := vectorSimilarities(distances)
		incoming := make([]scoring.Scored[entityCand], 0, len(vecResults))
		for i, r := range vecResults {
			e, ok := byID[r.ID]
			if !ok {
				continue
			}
			incoming = append(incoming, scoring.Scored[entityCand]{Item: entityCand{Entity: e}}.WithVectorScore(sims[i]))
		}
		scoring.MergeScoredByID(merged, incoming)
	}

	if len(ftsResults) > 0 {
		raw := make([]float64, len(ftsResults))
		for i, r := range ftsResults {
			raw[i] = r.Score
		}
		normalized := raw
		if req.Tuning.NormalizeFTS {
			normalized = scoring.MinMaxNormalize(raw)
		}
		incoming := make([]scoring.Scored[entityCand], 0, len(ftsResults))
		for i, r := range ftsResults {
			e, ok := byID[r.ID]
			if !ok {
				continue
			}
			incoming = append(incoming, scoring.Scored[entityCand]{Item: entityCand{Entity: e}}.WithFTSScore(normalized[i]))
		}
		scoring.MergeScoredByID(merged, incoming)
	}

	return merged, nil
}

// collectChunkCandidates is the chunk-centric counterpart of
// collectEntityCandidates.
func (p *Pipeline) collectChunkCandidates(ctx context.Context, req Request, vector []float32) (map[string]scoring.Scored[chunkCand], error) {
	merged := make(map[string]scoring.Scored[chunkCand])
	var vecResults []store.VectorResult
	var ftsResults []store.FTSResult

	g, gctx := errgroup.WithContext(ctx)
	if vector != nil {
		g.Go(func() error {
			r, err := p.store.SearchChunksByVector(gctx, req.UserID, vector, req.Tuning.VectorK)
			if err != nil {
				return err
			}
			vecResults = r
			return nil
		})
	}
	if req.Query != "" {
		g.Go(func() error {
			r, err := p.store.SearchChunksByText(gctx, req.UserID, req.Query, req.Tuning.FTSK)
			if err != nil {
				return err
			}
			ftsResults = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make(map[string]struct{})
	for _, r := range vecResults {
		ids[r.ID] = struct{}{}
	}
	for _, r := range ftsResults {
		ids[r.ID] = struct{}{}
	}
	if len(ids) == 0 {
		return merged, nil
	}
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	chunks, err := p.store.GetChunksByIDs(ctx, idList)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.TextChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	if len(vecResults) > 0 {
		distances := make([]float64, len(vecResults))
		for i, r := range vecResults {
			distances[i] = r.Distance
		}
		sims := vectorSimilarities(distances)
		incoming := make([]scoring.Scored[chunkCand], 0, len(vecResults))
		for i, r := range vecResults {
			c, ok := byID[r.ID]
			if !ok {
				continue
			}
			incoming = append(incoming, scoring.Scored[chunkCand]{Item: chunkCand{Chunk: c}}.WithVectorScore(sims[i]))
		}
		scoring.MergeScoredByID(merged, incoming)
	}

	if len(ftsResults) > 0 {
		raw := make([]float64, len(ftsResults))
		for i, r := range ftsResults {
			raw[i] = r.Score
		}
		normalized := raw
		if req.Tuning.NormalizeFTS {
			normalized = scoring.MinMaxNormalize(raw)
		}
		incoming := make([]scoring.Scored[chunkCand], 0, len(ftsResults))
		for i, r := range ftsResults {
			c, ok := byID[r.ID]
			if !ok {
				continue
			}
			incoming = append(incoming, scoring.Scored[chunkCand]{Item: chunkCand{Chunk: c}}.WithFTSScore(normalized[i]))
		}
		scoring.MergeScoredByID(merged, incoming)
	}

	return merged, nil
}

// fuseEntities converts a merged score map into a sorted, fused slice.
func fuseEntities(merged map[string]scoring.Scored[entityCand], w scoring.FusionWeights) []scoring.Scored[entityCand] {
	out := make([]scoring.Scored[entityCand], 0, len(merged))
	for _, sc := range merged {
		sc.Fused = scoring.FuseScores(sc.Score, w)
		out = append(out, sc)
	}
	scoring.SortByFusedDesc(out)
	return out
}

func fuseChunks(merged map[string]scoring.Scored[chunkCand], w scoring.FusionWeights) []scoring.Scored[chunkCand] {
	out := make([]scoring.Scored[chunkCand], 0, len(merged))
	for _, sc := range merged {
		sc.Fused = scoring.FuseScores(sc.Score, w)
		out = append(out, sc)
	}
	scoring.SortByFusedDesc(out)
	return out
}
