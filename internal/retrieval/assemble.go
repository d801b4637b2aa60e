package retrieval

import "sort"

// assembleChunks implements spec.md §4.3 stage 6 for chunk results: sort by
// score descending (id ascending tie-break for determinism), cap at
// ChunkResultCap/K, and stop once the running character estimate would push
// past TokenBudgetEstimate*AvgCharsPerToken.
func assembleChunks(tuning Tuning, chunks []RetrievedChunk) []RetrievedChunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})

	cap := tuning.ChunkResultCap
	if cap <= 0 || cap > tuning.K {
		if tuning.K > 0 {
			cap = tuning.K
		}
	}
	if cap > 0 && cap < len(chunks) {
		chunks = chunks[:cap]
	}

	budgetChars := 0.0
	if tuning.TokenBudgetEstimate > 0 && tuning.AvgCharsPerToken > 0 {
		budgetChars = float64(tuning.TokenBudgetEstimate) * tuning.AvgCharsPerToken
	}
	if budgetChars <= 0 {
		return chunks
	}

	out := make([]RetrievedChunk, 0, len(chunks))
	running := 0.0
	for _, c := range chunks {
		running += float64(len(c.Chunk.Text))
		if running > budgetChars && len(out) > 0 {
			break
		}
		out = append(out, c)
	}
	return out
}

// assembleEntities is the entity-result counterpart of assembleChunks.
func assembleEntities(tuning Tuning, entities []RetrievedEntity) []RetrievedEntity {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		return entities[i].Entity.ID < entities[j].Entity.ID
	})
	k := tuning.K
	if k > 0 && k < len(entities) {
		entities = entities[:k]
	}
	return entities
}
