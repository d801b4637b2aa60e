package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/reranker"
	"knowledgecore/internal/store"
)

// fakeStore embeds store.Store so only the methods a test needs are
// overridden; every other call panics if reached, following
// internal/taskqueue/taskqueue_test.go's fakeTaskStore pattern.
type fakeStore struct {
	store.Store

	entityVecResults []store.VectorResult
	entityFTSResults []store.FTSResult
	chunkVecResults  []store.VectorResult
	chunkFTSResults  []store.FTSResult
	entities         map[string]domain.KnowledgeEntity
	chunks           map[string]domain.TextChunk
	neighbors        map[string][]string
	chunksBySource   map[string][]domain.TextChunk
}

func (f *fakeStore) SearchEntitiesByVector(context.Context, string, []float32, int) ([]store.VectorResult, error) {
	return f.entityVecResults, nil
}

func (f *fakeStore) SearchEntitiesByText(context.Context, string, string, int) ([]store.FTSResult, error) {
	return f.entityFTSResults, nil
}

func (f *fakeStore) SearchChunksByVector(context.Context, string, []float32, int) ([]store.VectorResult, error) {
	return f.chunkVecResults, nil
}

func (f *fakeStore) SearchChunksByText(context.Context, string, string, int) ([]store.FTSResult, error) {
	return f.chunkFTSResults, nil
}

func (f *fakeStore) GetEntitiesByIDs(_ context.Context, ids []string) ([]domain.KnowledgeEntity, error) {
	out := make([]domain.KnowledgeEntity, 0, len(ids))
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetChunksByIDs(_ context.Context, ids []string) ([]domain.TextChunk, error) {
	out := make([]domain.TextChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) Neighbors(_ context.Context, entityID string, limit int) ([]string, error) {
	ns := f.neighbors[entityID]
	if limit > 0 && limit < len(ns) {
		ns = ns[:limit]
	}
	return ns, nil
}

func (f *fakeStore) GetChunksBySource(_ context.Context, sourceID string, limit int) ([]domain.TextChunk, error) {
	cs := f.chunksBySource[sourceID]
	if limit > 0 && limit < len(cs) {
		cs = cs[:limit]
	}
	return cs, nil
}

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error)            { return f.vec, nil }
func (f fakeEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error)   { return nil, nil }
func (f fakeEmbedder) Dimension() int                                             { return len(f.vec) }

func TestPipeline_DefaultStrategy_ReturnsFusedChunks(t *testing.T) {
	fs := &fakeStore{
		chunkVecResults: []store.VectorResult{{ID: "c1", Distance: 0.1}, {ID: "c2", Distance: 0.5}},
		chunkFTSResults: []store.FTSResult{{ID: "c1", Score: 2.0}},
		chunks: map[string]domain.TextChunk{
			"c1": {ID: "c1", SourceID: "s1", Text: "alpha"},
			"c2": {ID: "c2", SourceID: "s1", Text: "beta"},
		},
	}
	p := New(fs, fakeEmbedder{vec: []float32{1, 0}}, nil)

	resp, err := p.Run(context.Background(), Request{Query: "alpha", Strategy: StrategyDefault, Tuning: DefaultTuning()})
	require.NoError(t, err)
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, "c1", resp.Chunks[0].Chunk.ID, "c1 has both vector and fts signal, should rank first")
}

func TestPipeline_EntityCentric_AttachesChunksAndExpandsGraph(t *testing.T) {
	fs := &fakeStore{
		entityVecResults: []store.VectorResult{{ID: "e1", Distance: 0.0}},
		entities: map[string]domain.KnowledgeEntity{
			"e1": {ID: "e1", SourceID: "s1", Name: "Root"},
			"e2": {ID: "e2", SourceID: "s2", Name: "Neighbour"},
		},
		neighbors: map[string][]string{"e1": {"e2"}},
		chunksBySource: map[string][]domain.TextChunk{
			"s1": {{ID: "c1", SourceID: "s1", Index: 0, Text: "root chunk"}},
			"s2": {{ID: "c2", SourceID: "s2", Index: 0, Text: "neighbour chunk"}},
		},
	}
	tuning := DefaultTuning()
	tuning.SeedMinScore = 0 // any vector score lets e1 seed graph expansion
	p := New(fs, fakeEmbedder{vec: []float32{1, 0}}, nil)

	resp, err := p.Run(context.Background(), Request{Query: "root", Strategy: StrategyIngestion, Tuning: tuning})
	require.NoError(t, err)
	require.Len(t, resp.Entities, 2)

	byID := map[string]RetrievedEntity{}
	for _, e := range resp.Entities {
		byID[e.Entity.ID] = e
	}
	assert.Greater(t, byID["e1"].Score, 0.0)
	assert.Greater(t, byID["e2"].Score, 0.0, "neighbour should receive a graph-derived score")
	require.Len(t, byID["e1"].Chunks, 1)
	assert.Equal(t, "c1", byID["e1"].Chunks[0].ID)
}

func TestPipeline_EntityCentric_FillsChunksByVectorWhenSourceIsShort(t *testing.T) {
	fs := &fakeStore{
		entityVecResults: []store.VectorResult{{ID: "e1", Distance: 0.0}},
		entities: map[string]domain.KnowledgeEntity{
			"e1": {ID: "e1", SourceID: "s1", Name: "Root"},
		},
		chunksBySource: map[string][]domain.TextChunk{
			"s1": {{ID: "c1", SourceID: "s1", Index: 0, Text: "root chunk"}},
		},
		chunkVecResults: []store.VectorResult{{ID: "c1", Distance: 0.0}, {ID: "c2", Distance: 0.2}},
		chunks: map[string]domain.TextChunk{
			"c1": {ID: "c1", SourceID: "s1", Index: 0, Text: "root chunk"},
			"c2": {ID: "c2", SourceID: "s3", Index: 0, Text: "unrelated but similar"},
		},
	}
	tuning := DefaultTuning()
	tuning.SeedMinScore = 0
	tuning.MaxChunksPerEntity = 2
	p := New(fs, fakeEmbedder{vec: []float32{1, 0}}, nil)

	resp, err := p.Run(context.Background(), Request{Query: "root", Strategy: StrategyIngestion, Tuning: tuning})
	require.NoError(t, err)
	require.Len(t, resp.Entities, 1)

	chunks := resp.Entities[0].Chunks
	require.Len(t, chunks, 2, "source match (c1) plus vector-similarity fill (c2) should both attach")
	assert.Equal(t, "c1", chunks[0].ID)
	assert.Equal(t, "c2", chunks[1].ID)
}

func TestPipeline_ExpiredDeadline_ReturnsMostRecentlyCompletedStage(t *testing.T) {
	fs := &fakeStore{
		entityVecResults: []store.VectorResult{{ID: "e1", Distance: 0.0}},
		entities: map[string]domain.KnowledgeEntity{
			"e1": {ID: "e1", SourceID: "s1", Name: "Root"},
			"e2": {ID: "e2", SourceID: "s2", Name: "Neighbour"},
		},
		neighbors: map[string][]string{"e1": {"e2"}},
		chunksBySource: map[string][]domain.TextChunk{
			"s1": {{ID: "c1", SourceID: "s1", Index: 0, Text: "root chunk"}},
		},
	}
	tuning := DefaultTuning()
	tuning.SeedMinScore = 0
	p := New(fs, fakeEmbedder{vec: []float32{1, 0}}, nil)

	resp, err := p.Run(context.Background(), Request{
		Query: "root", Strategy: StrategyIngestion, Tuning: tuning,
		Deadline: time.Unix(0, 1), // already elapsed before Run is even called
	})
	require.NoError(t, err)
	require.Len(t, resp.Entities, 1, "graph-expand and chunk-attach never ran once the deadline had passed")
	assert.Equal(t, "e1", resp.Entities[0].Entity.ID)
	assert.Empty(t, resp.Entities[0].Chunks)
}

func TestPipeline_PrecomputedVector_SkipsEmbedCall(t *testing.T) {
	fs := &fakeStore{
		chunkVecResults: []store.VectorResult{{ID: "c1", Distance: 0.2}},
		chunks:          map[string]domain.TextChunk{"c1": {ID: "c1", SourceID: "s1", Text: "x"}},
	}
	p := New(fs, fakeEmbedder{}, nil)
	resp, err := p.Run(context.Background(), Request{
		Strategy:          StrategyDefault,
		Tuning:            DefaultTuning(),
		PrecomputedVector: []float32{0.5, 0.5},
	})
	require.NoError(t, err)
	require.Len(t, resp.Chunks, 1)
}

func TestPipeline_Diagnostics_RecordsStageTimings(t *testing.T) {
	fs := &fakeStore{
		chunkVecResults: []store.VectorResult{{ID: "c1", Distance: 0.2}},
		chunks:          map[string]domain.TextChunk{"c1": {ID: "c1", SourceID: "s1", Text: "x"}},
	}
	p := New(fs, fakeEmbedder{vec: []float32{1}}, nil)
	resp, err := p.Run(context.Background(), Request{
		Query: "x", Strategy: StrategyDefault, Tuning: DefaultTuning(), WithDiagnostics: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Diagnostics)
	assert.NotEmpty(t, resp.Diagnostics.Stages)
	assert.Contains(t, resp.Diagnostics.CandidateScores, "c1")
}

func TestPipeline_RerankPoolNil_LeavesOrderingUntouched(t *testing.T) {
	fs := &fakeStore{
		chunkVecResults: []store.VectorResult{{ID: "c1", Distance: 0.1}, {ID: "c2", Distance: 0.9}},
		chunks: map[string]domain.TextChunk{
			"c1": {ID: "c1", SourceID: "s1", Text: "a"},
			"c2": {ID: "c2", SourceID: "s1", Text: "b"},
		},
	}
	p := New(fs, fakeEmbedder{vec: []float32{1}}, reranker.New(nil))
	resp, err := p.Run(context.Background(), Request{Query: "a", Strategy: StrategyDefault, Tuning: DefaultTuning()})
	require.NoError(t, err)
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, "c1", resp.Chunks[0].Chunk.ID)
}
