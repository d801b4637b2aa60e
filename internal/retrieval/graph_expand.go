package retrieval

import (
	"context"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/scoring"
)

// graphExpand implements spec.md §4.3 stage 3: take the top entity seeds
// whose vector similarity to the query is at least SeedMinScore (seeds with
// no vector score never expand, however strong their fused score), pull
// their 1-hop neighbours, and inject a Graph
// subscore (seed.Fused * ScoreDecay) plus an inherited Vector subscore
// (seed.Vector * VectorInheritance) for any neighbour that lacks one of its
// own. Skipped entirely for chunk-centric strategies, since those never
// collect entity seeds to expand from.
func (p *Pipeline) graphExpand(ctx context.Context, tuning Tuning, fused []scoring.Scored[entityCand]) ([]scoring.Scored[entityCand], error) {
	if len(fused) == 0 {
		return fused, nil
	}

	seedCount := tuning.GraphTopSeeds
	if seedCount <= 0 || seedCount > len(fused) {
		seedCount = len(fused)
	}

	byID := make(map[string]scoring.Scored[entityCand], len(fused))
	for _, sc := range fused {
		byID[sc.Item.ScoreID()] = sc
	}

	for i := 0; i < seedCount; i++ {
		seed := fused[i]
		if seed.Score.Vector == nil || *seed.Score.Vector < tuning.SeedMinScore {
			continue
		}
		neighbourIDs, err := p.store.Neighbors(ctx, seed.Item.Entity.ID, tuning.NeighbourLimit)
		if err != nil {
			return nil, err
		}
		if len(neighbourIDs) == 0 {
			continue
		}

		graphSignal := seed.Fused * tuning.ScoreDecay
		var inheritedVector *float64
		if seed.Score.Vector != nil {
			v := *seed.Score.Vector * tuning.VectorInheritance
			inheritedVector = &v
		}

		var missingIDs []string
		for _, nid := range neighbourIDs {
			if _, ok := byID[nid]; !ok {
				missingIDs = append(missingIDs, nid)
			}
		}
		var fetched []domain.KnowledgeEntity
		if len(missingIDs) > 0 {
			fetched, err = p.store.GetEntitiesByIDs(ctx, missingIDs)
			if err != nil {
				return nil, err
			}
		}
		fetchedByID := make(map[string]domain.KnowledgeEntity, len(fetched))
		for _, e := range fetched {
			fetchedByID[e.ID] = e
		}

		for _, nid := range neighbourIDs {
			existing, ok := byID[nid]
			if !ok {
				e, ok2 := fetchedByID[nid]
				if !ok2 {
					continue
				}
				existing = scoring.Scored[entityCand]{Item: entityCand{Entity: e}}
			}
			if existing.Score.Graph == nil || graphSignal > *existing.Score.Graph {
				existing = existing.WithGraphScore(graphSignal)
			}
			if existing.Score.Vector == nil && inheritedVector != nil {
				existing = existing.WithVectorScore(*inheritedVector)
			}
			byID[nid] = existing
		}
	}

	out := make([]scoring.Scored[entityCand], 0, len(byID))
	for _, sc := range byID {
		out = append(out, sc)
	}
	w := p.fusionWeights
	for i := range out {
		out[i].Fused = scoring.FuseScores(out[i].Score, w)
	}
	scoring.SortByFusedDesc(out)
	return out, nil
}
