package ingestion

import (
	"context"
	"strings"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/ingestion/content"
	"knowledgecore/internal/llm"
	"knowledgecore/internal/obs"
	"knowledgecore/internal/retrieval"
)

// Deps wires the Ingestion Pipeline's stage-local packages together. Content
// and Persist carry their own sub-dependency structs since both were built
// as independently testable packages/functions.
type Deps struct {
	Content      content.Deps
	Retrieval    *retrieval.Pipeline
	LLM          llm.Client
	LLMModel     string
	Persist      PersistDeps
	SimilarLimit int
	Logger       obs.Logger
	Clock        obs.Clock
}

// Pipeline drives one IngestionTask through Ready -> ContentPrepared ->
// Retrieved -> Enriched -> Persisted (spec.md §4.2). Each stage is a plain
// function on the prior stage's output; a failure at any stage aborts the
// run without attempting to undo earlier writes, relying on Persist's
// deterministic ids to make a retried run idempotent.
type Pipeline struct {
	deps Deps
}

// New constructs a Pipeline. An unset Logger defaults to a no-op logger and
// an unset Clock to the system clock.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = obs.NopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = obs.SystemClock{}
	}
	if deps.SimilarLimit <= 0 {
		deps.SimilarLimit = 5
	}
	return &Pipeline{deps: deps}
}

// Run executes the full stage chain for one claimed task.
func (p *Pipeline) Run(ctx context.Context, task domain.IngestionTask) (PersistResult, error) {
	ctx, span := obs.StartSpan(ctx, "internal/ingestion", "Pipeline.Run")
	defer span.End()

	log := p.deps.Logger
	fields := map[string]any{"task_id": task.ID, "attempt": task.Attempts}

	log.Info("ingestion_stage_ready", fields)

	contentID := deterministicID(task.ID, "content")
	screenshotKey := deterministicID(task.ID, "screenshot")
	tc, err := content.Prepare(ctx, contentID, screenshotKey, task.Payload, p.deps.Content)
	if err != nil {
		log.Error("ingestion_stage_prepare_failed", merge(fields, "error", err.Error()))
		return PersistResult{}, err
	}
	log.Debug("ingestion_stage_content_prepared", merge(fields, "content_id", tc.ID))

	similar, err := p.retrieveSimilar(ctx, tc)
	if err != nil {
		log.Error("ingestion_stage_retrieve_failed", merge(fields, "error", err.Error()))
		return PersistResult{}, err
	}
	log.Debug("ingestion_stage_retrieved", merge(fields, "similar_count", len(similar)))

	enrichment, err := Enrich(ctx, p.deps.LLM, p.deps.LLMModel, tc, similar)
	if err != nil {
		log.Error("ingestion_stage_enrich_failed", merge(fields, "error", err.Error()))
		return PersistResult{}, err
	}
	log.Debug("ingestion_stage_enriched", merge(fields, "entity_count", len(enrichment.Entities), "relationship_count", len(enrichment.Relationships)))

	result, err := Persist(ctx, task.ID, tc, enrichment, p.deps.Persist)
	if err != nil {
		log.Error("ingestion_stage_persist_failed", merge(fields, "error", err.Error()))
		return PersistResult{}, err
	}
	log.Info("ingestion_stage_persisted", merge(fields,
		"entity_ids", len(result.EntityIDs),
		"relationship_ids", len(result.RelationshipIDs),
		"chunk_ids", len(result.ChunkIDs),
		"dropped_edges", result.DroppedEdges,
	))

	return result, nil
}

// retrieveSimilar runs the Retrieval Pipeline's Ingestion strategy over the
// prepared content, seeding the Enrich prompt without persisting the query
// itself (spec.md §4.2 stage 2).
func (p *Pipeline) retrieveSimilar(ctx context.Context, tc domain.TextContent) ([]retrieval.RetrievedEntity, error) {
	if p.deps.Retrieval == nil {
		return nil, nil
	}
	query := strings.Join([]string{tc.Text, tc.Category, tc.Context}, " | ")
	tuning := retrieval.DefaultTuning()
	tuning.K = p.deps.SimilarLimit

	resp, err := p.deps.Retrieval.Run(ctx, retrieval.Request{
		UserID:   tc.UserID,
		Query:    query,
		Strategy: retrieval.StrategyIngestion,
		Tuning:   tuning,
	})
	if err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

func merge(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out[key] = kv[i+1]
		}
	}
	return out
}
