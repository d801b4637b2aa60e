// Package store defines the narrow Store client contract (spec.md §6) that
// the Task Queue, Ingestion Pipeline, and Retrieval Pipeline are built
// against. Concrete backends live in subpackages (internal/store/postgres,
// internal/store/qdrant); callers depend only on these interfaces so the
// pipelines stay backend-agnostic, following the capability-interface style
// of internal/persistence/databases/interfaces.go in the teacher.
package store

import (
	"context"
	"time"

	"knowledgecore/internal/domain"
)

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float64
}

// VectorStore is the embedding-table HNSW index contract.
type VectorStore interface {
	UpsertEntityEmbedding(ctx context.Context, emb domain.EntityEmbedding) error
	UpsertChunkEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error
	SearchEntitiesByVector(ctx context.Context, userID string, query []float32, k int) ([]VectorResult, error)
	SearchChunksByVector(ctx context.Context, userID string, query []float32, k int) ([]VectorResult, error)
	Dimension(ctx context.Context) (int, error)
}

// FTSResult is a single lexical-search hit.
type FTSResult struct {
	ID    string
	Score float64
}

// FullTextSearch is the BM25/tsvector lexical search contract.
type FullTextSearch interface {
	IndexEntity(ctx context.Context, e domain.KnowledgeEntity) error
	IndexChunk(ctx context.Context, c domain.TextChunk) error
	SearchEntitiesByText(ctx context.Context, userID, query string, limit int) ([]FTSResult, error)
	SearchChunksByText(ctx context.Context, userID, query string, limit int) ([]FTSResult, error)
}

// GraphStore is the relates_to edge-table contract.
type GraphStore interface {
	UpsertEdge(ctx context.Context, edge domain.RelatesTo) error
	Neighbors(ctx context.Context, entityID string, limit int) ([]string, error)
}

// ContentStore persists the typed rows that make up the data model (spec.md §3).
type ContentStore interface {
	StoreTextContent(ctx context.Context, tc domain.TextContent) error
	StoreEntity(ctx context.Context, e domain.KnowledgeEntity) error
	StoreChunk(ctx context.Context, c domain.TextChunk) error
	GetEntity(ctx context.Context, id string) (domain.KnowledgeEntity, bool, error)
	GetChunksBySource(ctx context.Context, sourceID string, limit int) ([]domain.TextChunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]domain.TextChunk, error)
	GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.KnowledgeEntity, error)
	RebuildIndexes(ctx context.Context) error
}

// ChangeAction enumerates the change-feed action kinds (spec.md §6).
type ChangeAction string

const (
	ChangeCreate ChangeAction = "Create"
	ChangeUpdate ChangeAction = "Update"
	ChangeDelete ChangeAction = "Delete"
)

// TaskChange is a single change-feed event for the ingestion_task table.
type TaskChange struct {
	Action ChangeAction
	Task   domain.IngestionTask
}

// TaskStore is the Task Queue's persistence contract (spec.md §4.1).
type TaskStore interface {
	Enqueue(ctx context.Context, payload domain.IngestionPayload, maxAttempts int) (string, error)
	ClaimNextReady(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*domain.IngestionTask, error)
	RenewLease(ctx context.Context, taskID, workerID string, until time.Time) error
	MarkSucceeded(ctx context.Context, taskID string) error
	MarkFailed(ctx context.Context, taskID string, cause error, retryAt time.Time) error
	MarkDeadLetter(ctx context.Context, taskID string, cause error) error
	Cancel(ctx context.Context, taskID string) error
	ListUnfinishedFor(ctx context.Context, userID string) ([]domain.IngestionTask, error)
	ReapExpiredLeases(ctx context.Context, now time.Time) (int, error)
	SubscribeChanges(ctx context.Context) (<-chan TaskChange, error)
}

// DimensionMigrator is the optional capability backing spec.md §4.6: a
// backend that can enumerate every embedding-bearing row and swap the
// vector columns' dimension inside a single transaction.
// Callers type-assert for it the way internal/rag/ingest/index_search.go's
// chunkTableChecker/chunkUpserter pattern probes for optional capabilities.
type DimensionMigrator interface {
	AllEntityIDs(ctx context.Context) ([]string, error)
	AllChunkIDs(ctx context.Context) ([]string, error)
	MigrateEmbeddingDimension(ctx context.Context, newDim int, entityVectors map[string][]float32, chunkVectors map[string][]float32) error
}

// Hybrid composes a ContentStore/FullTextSearch/GraphStore/TaskStore
// backend (normally internal/store/postgres.Store) with an independently
// selectable VectorStore (internal/store/postgres.Store itself for
// pgvector, or internal/store/qdrant.Store for the alternative backend
// spec.md §6 allows). Embedding the narrower Store interface and shadowing
// its VectorStore methods lets either backend supply dense search without
// either package depending on the other.
type Hybrid struct {
	Store
	Vectors VectorStore
}

func (h Hybrid) UpsertEntityEmbedding(ctx context.Context, emb domain.EntityEmbedding) error {
	return h.Vectors.UpsertEntityEmbedding(ctx, emb)
}

func (h Hybrid) UpsertChunkEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error {
	return h.Vectors.UpsertChunkEmbedding(ctx, emb)
}

func (h Hybrid) SearchEntitiesByVector(ctx context.Context, userID string, query []float32, k int) ([]VectorResult, error) {
	return h.Vectors.SearchEntitiesByVector(ctx, userID, query, k)
}

func (h Hybrid) SearchChunksByVector(ctx context.Context, userID string, query []float32, k int) ([]VectorResult, error) {
	return h.Vectors.SearchChunksByVector(ctx, userID, query, k)
}

func (h Hybrid) Dimension(ctx context.Context) (int, error) {
	return h.Vectors.Dimension(ctx)
}

// Close shuts down the content backend and, if the vector backend is
// separately closeable (e.g. qdrant.Store's gRPC connection), that too.
func (h Hybrid) Close() {
	h.Store.Close()
	if closer, ok := h.Vectors.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// Store is the full narrow client the pipelines are constructed against.
// Backends may implement a subset; callers type-assert for optional
// capabilities the way internal/rag/ingest/index_search.go's
// chunkTableChecker/chunkUpserter pattern does.
type Store interface {
	VectorStore
	FullTextSearch
	GraphStore
	ContentStore
	TaskStore
	Close()
}
