package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/store"
)

type fakePersistStore struct {
	store.Store

	mu sync.Mutex

	entities     []domain.KnowledgeEntity
	entityEmbs   []domain.EntityEmbedding
	edges        []domain.RelatesTo
	chunks       []domain.TextChunk
	chunkEmbs    []domain.ChunkEmbedding
	indexedEnts  int
	indexedChnks int
	storedText   *domain.TextContent
	rebuilt      bool

	edgeFailuresLeft int
	edgeErr          error
}

func (f *fakePersistStore) StoreEntity(_ context.Context, e domain.KnowledgeEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities = append(f.entities, e)
	return nil
}

func (f *fakePersistStore) UpsertEntityEmbedding(_ context.Context, e domain.EntityEmbedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityEmbs = append(f.entityEmbs, e)
	return nil
}

func (f *fakePersistStore) IndexEntity(_ context.Context, _ domain.KnowledgeEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedEnts++
	return nil
}

func (f *fakePersistStore) UpsertEdge(_ context.Context, e domain.RelatesTo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edgeFailuresLeft > 0 {
		f.edgeFailuresLeft--
		return f.edgeErr
	}
	f.edges = append(f.edges, e)
	return nil
}

func (f *fakePersistStore) StoreChunk(_ context.Context, c domain.TextChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, c)
	return nil
}

func (f *fakePersistStore) UpsertChunkEmbedding(_ context.Context, c domain.ChunkEmbedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkEmbs = append(f.chunkEmbs, c)
	return nil
}

func (f *fakePersistStore) IndexChunk(_ context.Context, _ domain.TextChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedChnks++
	return nil
}

func (f *fakePersistStore) StoreTextContent(_ context.Context, tc domain.TextContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storedText = &tc
	return nil
}

func (f *fakePersistStore) RebuildIndexes(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt = true
	return nil
}

type fakePersistEmbedder struct{}

func (fakePersistEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (fakePersistEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, nil
}
func (fakePersistEmbedder) Dimension() int { return 2 }

func TestPersist_CommitsEntitiesRelationshipsChunksThenContent(t *testing.T) {
	st := &fakePersistStore{}
	tc := domain.TextContent{ID: "content-1", UserID: "u1", Text: "Paragraph one is long enough to stay a chunk on its own for this test to work well.\n\nParagraph two is also long enough to stand alone as its own chunk in this fixture."}
	enrichment := EnrichmentResult{
		Entities: []ProposedEntity{
			{Key: "a", Name: "A", Description: "desc a", EntityType: "Idea"},
			{Key: "b", Name: "B", Description: "desc b", EntityType: "Project"},
		},
		Relationships: []ProposedRelationship{
			{Type: "relates_to", SourceKey: "a", TargetKey: "b"},
			{Type: "relates_to", SourceKey: "a", TargetKey: "missing"},
		},
	}

	result, err := Persist(context.Background(), "task-1", tc, enrichment, PersistDeps{
		Store:    st,
		Embedder: fakePersistEmbedder{},
	})
	require.NoError(t, err)

	assert.Len(t, result.EntityIDs, 2)
	assert.Len(t, st.entities, 2)
	assert.Len(t, st.entityEmbs, 2)
	assert.Equal(t, 2, st.indexedEnts)

	assert.Len(t, result.RelationshipIDs, 1, "the edge referencing an unresolved key must be dropped")
	assert.Equal(t, 1, result.DroppedEdges)
	assert.Len(t, st.edges, 1)

	assert.NotEmpty(t, result.ChunkIDs)
	assert.True(t, st.rebuilt)
	require.NotNil(t, st.storedText)
	assert.Equal(t, "content-1", st.storedText.ID)
}

func TestPersist_IsIdempotentOnRetry(t *testing.T) {
	st := &fakePersistStore{}
	tc := domain.TextContent{ID: "content-1", UserID: "u1", Text: "One single short paragraph."}
	enrichment := EnrichmentResult{Entities: []ProposedEntity{{Key: "a", Name: "A", Description: "d", EntityType: "Idea"}}}

	r1, err := Persist(context.Background(), "task-1", tc, enrichment, PersistDeps{Store: st, Embedder: fakePersistEmbedder{}})
	require.NoError(t, err)
	r2, err := Persist(context.Background(), "task-1", tc, enrichment, PersistDeps{Store: st, Embedder: fakePersistEmbedder{}})
	require.NoError(t, err)

	assert.Equal(t, r1.EntityIDs, r2.EntityIDs)
	assert.Equal(t, r1.ChunkIDs, r2.ChunkIDs)
}

func TestPersist_UnknownEntityTypeFallsBackToTextSnippet(t *testing.T) {
	st := &fakePersistStore{}
	tc := domain.TextContent{ID: "content-1", UserID: "u1", Text: "text"}
	enrichment := EnrichmentResult{Entities: []ProposedEntity{{Key: "a", Name: "A", Description: "d", EntityType: "NotARealType"}}}

	_, err := Persist(context.Background(), "task-1", tc, enrichment, PersistDeps{Store: st, Embedder: fakePersistEmbedder{}})
	require.NoError(t, err)
	require.Len(t, st.entities, 1)
	assert.Equal(t, domain.EntityTextSnippet, st.entities[0].Type)
}

func TestUpsertEdgeWithRetry_RetriesTransientConflictThenSucceeds(t *testing.T) {
	st := &fakePersistStore{edgeFailuresLeft: 2, edgeErr: errors.New("could not serialize access due to read/write dependencies (SQLSTATE 40001)")}
	err := upsertEdgeWithRetry(context.Background(), st, domain.RelatesTo{ID: "e1"}, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, CapDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Len(t, st.edges, 1)
}

func TestUpsertEdgeWithRetry_NonTransientErrorAbortsImmediately(t *testing.T) {
	st := &fakePersistStore{edgeFailuresLeft: 1, edgeErr: errors.New("unique constraint violated")}
	err := upsertEdgeWithRetry(context.Background(), st, domain.RelatesTo{ID: "e1"}, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, CapDelay: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Empty(t, st.edges)
}
