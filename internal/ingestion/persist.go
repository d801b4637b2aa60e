package ingestion

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/chunker"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/embedding"
	"knowledgecore/internal/store"
)

// RetryPolicy bounds the relationship-insertion retry loop (spec.md §4.2
// stage 4, "up to R attempts with exponential backoff capped at C ms").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
}

// DefaultRetryPolicy mirrors internal/taskqueue.Policy's backoff shape,
// scaled down since a relationship insert retries within one task attempt
// rather than across Task Queue re-claims.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond, CapDelay: 2 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if d > p.CapDelay {
		d = p.CapDelay
	}
	return d
}

// PersistDeps are the Persist stage's external collaborators.
type PersistDeps struct {
	Store          store.Store
	Embedder       embedding.Provider
	ChunkerOptions chunker.Options
	Retry          RetryPolicy
	// ChunkConcurrency bounds how many chunk embed+store operations run at
	// once (spec.md §4.2 stage 4, "bounded-concurrency batches").
	ChunkConcurrency int
}

// PersistResult reports what the Persist stage wrote, mainly for logging.
type PersistResult struct {
	EntityIDs       []string
	RelationshipIDs []string
	ChunkIDs        []string
	DroppedEdges    int
}

// Persist implements spec.md §4.2 stage 4: entities+embeddings, then
// relationships, then chunks+embeddings, then the TextContent row, then a
// runtime index rebuild, in that order. Every id is deterministic on taskID
// so a retried run overwrites rather than duplicates its own prior rows.
func Persist(ctx context.Context, taskID string, tc domain.TextContent, enrichment EnrichmentResult, deps PersistDeps) (PersistResult, error) {
	if deps.ChunkConcurrency <= 0 {
		deps.ChunkConcurrency = 4
	}
	if deps.Retry == (RetryPolicy{}) {
		deps.Retry = DefaultRetryPolicy()
	}

	keyToID, entityIDs, err := persistEntities(ctx, taskID, tc, enrichment.Entities, deps)
	if err != nil {
		return PersistResult{}, err
	}

	relIDs, dropped, err := persistRelationships(ctx, taskID, tc, enrichment.Relationships, keyToID, deps)
	if err != nil {
		return PersistResult{}, err
	}

	chunkIDs, err := persistChunks(ctx, taskID, tc, deps)
	if err != nil {
		return PersistResult{}, err
	}

	if err := deps.Store.StoreTextContent(ctx, tc); err != nil {
		return PersistResult{}, apperr.Wrap(apperr.KindDatabase, "storing text content failed", err)
	}

	if err := deps.Store.RebuildIndexes(ctx); err != nil {
		return PersistResult{}, apperr.Wrap(apperr.KindDatabase, "rebuilding indexes failed", err)
	}

	return PersistResult{EntityIDs: entityIDs, RelationshipIDs: relIDs, ChunkIDs: chunkIDs, DroppedEdges: dropped}, nil
}

func persistEntities(ctx context.Context, taskID string, tc domain.TextContent, proposed []ProposedEntity, deps PersistDeps) (map[string]string, []string, error) {
	keyToID := make(map[string]string, len(proposed))
	ids := make([]string, 0, len(proposed))

	for _, p := range proposed {
		id := resolveEntityKey(taskID, p.Key)
		keyToID[p.Key] = id

		entityType := domain.EntityType(p.EntityType)
		switch entityType {
		case domain.EntityIdea, domain.EntityProject, domain.EntityDocument, domain.EntityPage, domain.EntityTextSnippet:
		default:
			entityType = domain.EntityTextSnippet
		}

		now := time.Now()
		entity := domain.KnowledgeEntity{
			ID:          id,
			SourceID:    tc.ID,
			UserID:      tc.UserID,
			Name:        p.Name,
			Description: p.Description,
			Type:        entityType,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		vec, err := deps.Embedder.Embed(ctx, entityEmbeddingText(entity))
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindProcessing, "embedding entity failed", err)
		}

		if err := deps.Store.StoreEntity(ctx, entity); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindDatabase, "storing entity failed", err)
		}
		if err := deps.Store.UpsertEntityEmbedding(ctx, domain.EntityEmbedding{ID: deterministicID(taskID, "entity-emb:"+id), EntityID: id, UserID: tc.UserID, Vector: vec}); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindDatabase, "storing entity embedding failed", err)
		}
		if err := deps.Store.IndexEntity(ctx, entity); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindDatabase, "indexing entity failed", err)
		}

		ids = append(ids, id)
	}

	return keyToID, ids, nil
}

func entityEmbeddingText(e domain.KnowledgeEntity) string {
	return fmt.Sprintf("name: %s description: %s type: %s", e.Name, e.Description, e.Type)
}

// persistRelationships resolves each edge's endpoints through keyToID,
// dropping edges whose endpoints did not resolve, and retries each insert
// on a transient read/write conflict (spec.md §4.2 stage 4).
func persistRelationships(ctx context.Context, taskID string, tc domain.TextContent, proposed []ProposedRelationship, keyToID map[string]string, deps PersistDeps) ([]string, int, error) {
	var ids []string
	dropped := 0

	for _, rel := range proposed {
		inID, inOK := keyToID[rel.SourceKey]
		outID, outOK := keyToID[rel.TargetKey]
		if !inOK || !outOK {
			dropped++
			continue
		}

		edge := domain.RelatesTo{
			ID:               deterministicID(taskID, "edge:"+rel.SourceKey+"->"+rel.TargetKey+":"+rel.Type),
			InID:             inID,
			OutID:            outID,
			UserID:           tc.UserID,
			SourceID:         tc.ID,
			RelationshipType: rel.Type,
		}

		if err := upsertEdgeWithRetry(ctx, deps.Store, edge, deps.Retry); err != nil {
			return nil, dropped, err
		}
		ids = append(ids, edge.ID)
	}

	return ids, dropped, nil
}

func upsertEdgeWithRetry(ctx context.Context, st store.GraphStore, edge domain.RelatesTo, policy RetryPolicy) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := st.UpsertEdge(ctx, edge)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientConflict(err) {
			return apperr.Wrap(apperr.KindDatabase, "storing relationship failed", err)
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindDatabase, "storing relationship failed", ctx.Err())
		case <-time.After(policy.delay(attempt)):
		}
	}
	return apperr.Wrap(apperr.KindDatabase, "storing relationship failed after retries", lastErr)
}

// isTransientConflict reports whether err looks like a Postgres read/write
// conflict (serialization_failure, SQLSTATE 40001) rather than a durable
// failure. The store backend wraps driver errors in plain fmt.Errorf today,
// so this matches on message substrings instead of a typed error.
func isTransientConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "serialization_failure") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "conflict")
}

// persistChunks splits tc.Text, embeds each chunk, and stores the
// TextChunk/ChunkEmbedding pairs with bounded concurrency (spec.md §4.2
// stage 4, "Chunks may be inserted in bounded-concurrency batches").
func persistChunks(ctx context.Context, taskID string, tc domain.TextContent, deps PersistDeps) ([]string, error) {
	opts := deps.ChunkerOptions
	if opts == (chunker.Options{}) {
		opts = chunker.DefaultOptions()
	}
	pieces := chunker.Split(tc.Text, opts)
	if len(pieces) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pieces))
	group, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, deps.ChunkConcurrency)

	for i, piece := range pieces {
		i, piece := i, piece
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()

			id := deterministicID(taskID, fmt.Sprintf("chunk:%d", piece.Index))
			now := time.Now()
			chunk := domain.TextChunk{
				ID:        id,
				SourceID:  tc.ID,
				UserID:    tc.UserID,
				Text:      piece.Text,
				Index:     piece.Index,
				CreatedAt: now,
				UpdatedAt: now,
			}

			vec, err := deps.Embedder.Embed(gctx, chunk.Text)
			if err != nil {
				return apperr.Wrap(apperr.KindProcessing, "embedding chunk failed", err)
			}
			if err := deps.Store.StoreChunk(gctx, chunk); err != nil {
				return apperr.Wrap(apperr.KindDatabase, "storing chunk failed", err)
			}
			if err := deps.Store.UpsertChunkEmbedding(gctx, domain.ChunkEmbedding{ID: deterministicID(taskID, "chunk-emb:"+id), ChunkID: id, UserID: tc.UserID, Vector: vec}); err != nil {
				return apperr.Wrap(apperr.KindDatabase, "storing chunk embedding failed", err)
			}
			if err := deps.Store.IndexChunk(gctx, chunk); err != nil {
				return apperr.Wrap(apperr.KindDatabase, "indexing chunk failed", err)
			}

			ids[i] = id
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}
