package retrieval

import (
	"context"

	"knowledgecore/internal/reranker"
)

// rerankChunks implements spec.md §4.3 stage 5 for chunk results: lease a
// cross-encoder, score the top RerankKeepTop fused candidates against the
// query, then either blend (final = a*rerank + (1-a)*fused) or replace the
// fused score outright. A size-zero reranker pool (nil lease) leaves the
// pre-rerank ordering untouched.
func (p *Pipeline) rerankChunks(ctx context.Context, tuning Tuning, query string, chunks []RetrievedChunk) ([]RetrievedChunk, error) {
	if p.rerankPool == nil || len(chunks) == 0 {
		return chunks, nil
	}
	lease, err := p.rerankPool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return chunks, nil
	}
	defer lease.Release()

	keep := tuning.RerankKeepTop
	if keep <= 0 || keep > len(chunks) {
		keep = len(chunks)
	}
	head := chunks[:keep]
	tail := chunks[keep:]

	candidates := make([]reranker.Candidate, len(head))
	for i, rc := range head {
		candidates[i] = reranker.Candidate{ID: rc.Chunk.ID, Text: rc.Chunk.Text}
	}
	scores, err := lease.Model.Score(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	alpha := tuning.RerankBlendWeight
	blended := make([]RetrievedChunk, len(head))
	for i, rc := range head {
		var rerankScore float64
		if i < len(scores) {
			rerankScore = scores[i]
		}
		if tuning.RerankScoresOnly {
			rc.Score = rerankScore
		} else {
			rc.Score = alpha*rerankScore + (1-alpha)*rc.Score
		}
		blended[i] = rc
	}
	return append(blended, tail...), nil
}

// rerankEntities is the entity-result counterpart, scoring against each
// entity's name+description.
func (p *Pipeline) rerankEntities(ctx context.Context, tuning Tuning, query string, entities []RetrievedEntity) ([]RetrievedEntity, error) {
	if p.rerankPool == nil || len(entities) == 0 {
		return entities, nil
	}
	lease, err := p.rerankPool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return entities, nil
	}
	defer lease.Release()

	keep := tuning.RerankKeepTop
	if keep <= 0 || keep > len(entities) {
		keep = len(entities)
	}
	head := entities[:keep]
	tail := entities[keep:]

	candidates := make([]reranker.Candidate, len(head))
	for i, re := range head {
		candidates[i] = reranker.Candidate{ID: re.Entity.ID, Text: re.Entity.Name + ": " + re.Entity.Description}
	}
	scores, err := lease.Model.Score(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	alpha := tuning.RerankBlendWeight
	blended := make([]RetrievedEntity, len(head))
	for i, re := range head {
		var rerankScore float64
		if i < len(scores) {
			rerankScore = scores[i]
		}
		if tuning.RerankScoresOnly {
			re.Score = rerankScore
		} else {
			re.Score = alpha*rerankScore + (1-alpha)*re.Score
		}
		blended[i] = re
	}
	return append(blended, tail...), nil
}
