package retrieval

import (
	"context"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/embedding"
	"knowledgecore/internal/obs"
	"knowledgecore/internal/reranker"
	"knowledgecore/internal/scoring"
	"knowledgecore/internal/store"
)

// Pipeline runs the Embed -> Collect-Candidates -> Graph-Expand ->
// Chunk-Attach -> Rerank -> Assemble stages for every Strategy (spec.md §4.3).
type Pipeline struct {
	store         store.Store
	embedder      embedding.Provider
	rerankPool    *reranker.Pool
	fusionWeights scoring.FusionWeights
	rrfConfig     scoring.RrfConfig
	logger        obs.Logger
	metrics       obs.Metrics
	clock         obs.Clock
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

func WithFusionWeights(w scoring.FusionWeights) Option { return func(p *Pipeline) { p.fusionWeights = w } }
func WithRrfConfig(c scoring.RrfConfig) Option         { return func(p *Pipeline) { p.rrfConfig = c } }
func WithLogger(l obs.Logger) Option                   { return func(p *Pipeline) { p.logger = l } }
func WithMetrics(m obs.Metrics) Option                 { return func(p *Pipeline) { p.metrics = m } }
func WithClock(c obs.Clock) Option                     { return func(p *Pipeline) { p.clock = c } }

// New constructs a Pipeline. rerankPool may be nil, which is equivalent to
// a size-zero pool: reranking is disabled.
func New(st store.Store, embedder embedding.Provider, rerankPool *reranker.Pool, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         st,
		embedder:      embedder,
		rerankPool:    rerankPool,
		fusionWeights: scoring.DefaultFusionWeights(),
		rrfConfig:     scoring.DefaultRrfConfig(),
		logger:        obs.NopLogger{},
		metrics:       obs.NoopMetrics{},
		clock:         obs.SystemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the staged pipeline for req, dispatching on req.Strategy.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	if req.Tuning == (Tuning{}) {
		req.Tuning = DefaultTuning()
	}
	var diag *Diagnostics
	if req.WithDiagnostics {
		diag = &Diagnostics{CandidateScores: make(map[string]CandidateDiagnostic)}
	}

	vector, err := p.embedStage(ctx, req, diag)
	if err != nil {
		return Response{}, err
	}

	resp := Response{}
	if p.deadlineExceeded(req) {
		resp.Diagnostics = diag
		return resp, nil
	}
	switch {
	case req.Strategy.chunkCentric() && !req.Strategy.entityCentric():
		chunks, err := p.runChunkCentric(ctx, req, vector, diag)
		if err != nil {
			return Response{}, err
		}
		resp.Chunks = chunks
	case req.Strategy.entityCentric() && !req.Strategy.chunkCentric():
		entities, err := p.runEntityCentric(ctx, req, vector, diag)
		if err != nil {
			return Response{}, err
		}
		resp.Entities = entities
	case req.Strategy == StrategySearch:
		entities, err := p.runEntityCentric(ctx, req, vector, diag)
		if err != nil {
			return Response{}, err
		}
		chunks, err := p.runChunkCentric(ctx, req, vector, diag)
		if err != nil {
			return Response{}, err
		}
		resp.Entities = entities
		resp.Chunks = chunks
	default:
		return Response{}, apperr.New(apperr.KindValidation, "unknown retrieval strategy")
	}

	resp.Diagnostics = diag
	return resp, nil
}

func (p *Pipeline) embedStage(ctx context.Context, req Request, diag *Diagnostics) ([]float32, error) {
	start := p.clock.Now()
	defer func() {
		if diag != nil {
			diag.Stages = append(diag.Stages, StageDuration{Stage: "embed", Duration: p.clock.Now().Sub(start)})
		}
	}()
	if req.PrecomputedVector != nil {
		return req.PrecomputedVector, nil
	}
	if req.Query == "" {
		return nil, nil
	}
	vec, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProcessing, "query embedding failed", err)
	}
	return vec, nil
}

func (p *Pipeline) runEntityCentric(ctx context.Context, req Request, vector []float32, diag *Diagnostics) ([]RetrievedEntity, error) {
	start := p.clock.Now()
	merged, err := p.collectEntityCandidates(ctx, req, vector)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		diag.Stages = append(diag.Stages, StageDuration{Stage: "collect-candidates-entity", Duration: p.clock.Now().Sub(start)})
	}

	fused := fuseEntities(merged, p.fusionWeights)
	entities := scoredEntitiesToRetrieved(fused, diag)
	if p.deadlineExceeded(req) {
		return assembleEntities(req.Tuning, entities), nil
	}

	start = p.clock.Now()
	expanded, err := p.graphExpand(ctx, req.Tuning, fused)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		diag.Stages = append(diag.Stages, StageDuration{Stage: "graph-expand", Duration: p.clock.Now().Sub(start)})
	}

	entities = scoredEntitiesToRetrieved(expanded, diag)
	if p.deadlineExceeded(req) {
		return assembleEntities(req.Tuning, entities), nil
	}

	start = p.clock.Now()
	entities, err = p.attachChunks(ctx, req.UserID, vector, req.Tuning, entities)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		diag.Stages = append(diag.Stages, StageDuration{Stage: "chunk-attach", Duration: p.clock.Now().Sub(start)})
	}
	if p.deadlineExceeded(req) {
		return assembleEntities(req.Tuning, entities), nil
	}

	start = p.clock.Now()
	entities, err = p.rerankEntities(ctx, req.Tuning, req.Query, entities)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		diag.Stages = append(diag.Stages, StageDuration{Stage: "rerank", Duration: p.clock.Now().Sub(start)})
	}

	return assembleEntities(req.Tuning, entities), nil
}

// scoredEntitiesToRetrieved converts one stage's fused entity candidates
// into the Response shape, recording per-candidate diagnostics. Called at
// each stage boundary so a deadline can return the most recently completed
// stage's output without reaching back into scoring internals.
func scoredEntitiesToRetrieved(scored []scoring.Scored[entityCand], diag *Diagnostics) []RetrievedEntity {
	entities := make([]RetrievedEntity, len(scored))
	for i, sc := range scored {
		entities[i] = RetrievedEntity{Entity: sc.Item.Entity, Score: sc.Fused}
		if diag != nil {
			diag.CandidateScores[sc.Item.Entity.ID] = CandidateDiagnostic{
				ID: sc.Item.Entity.ID, Vector: sc.Score.Vector, FTS: sc.Score.FTS, Graph: sc.Score.Graph, Fused: sc.Fused,
			}
		}
	}
	return entities
}

// deadlineExceeded reports whether req.Deadline has passed, per spec.md §5:
// on expiry, Run returns the most recently completed stage's output rather
// than waiting on or returning a partially built one.
func (p *Pipeline) deadlineExceeded(req Request) bool {
	return !req.Deadline.IsZero() && p.clock.Now().After(req.Deadline)
}

func (p *Pipeline) runChunkCentric(ctx context.Context, req Request, vector []float32, diag *Diagnostics) ([]RetrievedChunk, error) {
	start := p.clock.Now()
	merged, err := p.collectChunkCandidates(ctx, req, vector)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		diag.Stages = append(diag.Stages, StageDuration{Stage: "collect-candidates-chunk", Duration: p.clock.Now().Sub(start)})
	}

	var fused []scoring.Scored[chunkCand]
	if req.Tuning.UseRRF {
		var vecRanked, ftsRanked []scoring.Scored[chunkCand]
		for _, sc := range merged {
			if sc.Score.Vector != nil {
				vecRanked = append(vecRanked, sc)
			}
			if sc.Score.FTS != nil {
				ftsRanked = append(ftsRanked, sc)
			}
		}
		fused = scoring.ReciprocalRankFusion(vecRanked, ftsRanked, p.rrfConfig)
	} else {
		fused = fuseChunks(merged, p.fusionWeights)
	}

	chunks := make([]RetrievedChunk, len(fused))
	for i, sc := range fused {
		chunks[i] = RetrievedChunk{Chunk: sc.Item.Chunk, Score: sc.Fused}
		if diag != nil {
			diag.CandidateScores[sc.Item.Chunk.ID] = CandidateDiagnostic{
				ID: sc.Item.Chunk.ID, Vector: sc.Score.Vector, FTS: sc.Score.FTS, Fused: sc.Fused,
			}
		}
	}
	if p.deadlineExceeded(req) {
		return assembleChunks(req.Tuning, chunks), nil
	}

	start = p.clock.Now()
	chunks, err = p.rerankChunks(ctx, req.Tuning, req.Query, chunks)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		diag.Stages = append(diag.Stages, StageDuration{Stage: "rerank", Duration: p.clock.Now().Sub(start)})
	}

	return assembleChunks(req.Tuning, chunks), nil
}
