package retrieval

import (
	"context"
	"sort"

	"knowledgecore/internal/domain"
)

// attachChunks implements spec.md §4.3 stage 4: for each surviving entity,
// fetch up to MaxChunksPerEntity chunks from its source content (ordered by
// index so the attached excerpt reads in document order), then fill any
// remaining slots by vector similarity to the query, deduplicated against
// what the source match already attached.
func (p *Pipeline) attachChunks(ctx context.Context, userID string, vector []float32, tuning Tuning, entities []RetrievedEntity) ([]RetrievedEntity, error) {
	limit := tuning.MaxChunksPerEntity
	if limit <= 0 {
		return entities, nil
	}

	vecPool, err := p.vectorFillPool(ctx, userID, vector, limit)
	if err != nil {
		return nil, err
	}

	out := make([]RetrievedEntity, len(entities))
	for i, re := range entities {
		chunks, err := p.store.GetChunksBySource(ctx, re.Entity.SourceID, limit)
		if err != nil {
			return nil, err
		}
		sort.Slice(chunks, func(a, b int) bool { return chunks[a].Index < chunks[b].Index })

		if remaining := limit - len(chunks); remaining > 0 && len(vecPool) > 0 {
			seen := make(map[string]bool, len(chunks))
			for _, c := range chunks {
				seen[c.ID] = true
			}
			for _, c := range vecPool {
				if remaining == 0 {
					break
				}
				if seen[c.ID] {
					continue
				}
				chunks = append(chunks, c)
				seen[c.ID] = true
				remaining--
			}
		}

		re.Chunks = chunks
		out[i] = re
	}
	return out, nil
}

// vectorFillPool runs one query-vector search shared across all entities,
// ranked nearest-first, so each entity's fill tier draws from the same
// similarity ordering rather than re-querying per entity.
func (p *Pipeline) vectorFillPool(ctx context.Context, userID string, vector []float32, limit int) ([]domain.TextChunk, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	hits, err := p.store.SearchChunksByVector(ctx, userID, vector, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	fetched, err := p.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.TextChunk, len(fetched))
	for _, c := range fetched {
		byID[c.ID] = c
	}
	out := make([]domain.TextChunk, 0, len(hits))
	for _, h := range hits {
		if c, ok := byID[h.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
