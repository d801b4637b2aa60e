// Package retrieval implements spec.md §4.3: the staged hybrid retrieval
// pipeline (Embed -> Collect-Candidates -> Graph-Expand -> Chunk-Attach ->
// Rerank -> Assemble) shared by chat, search, relationship suggestion, and
// the ingestion enrichment stage. Grounded on the teacher's
// internal/rag/retrieve package for the Go package shape (stage functions
// operating over a query plan, a fused-candidate type, and an assemble
// step) -- generalized here from the teacher's generic Doc/Chunk model to
// spec.md's KnowledgeEntity/TextChunk/RelatesTo data model and gated by an
// explicit Strategy rather than boolean options, per spec.md §4.3/§9
// ("Strategy" glossary entry).
package retrieval

import (
	"time"

	"knowledgecore/internal/domain"
)

// Strategy selects the pipeline's output shape and which stages run
// (spec.md §4.3, GLOSSARY).
type Strategy string

const (
	// StrategyDefault is the chunk-out strategy used by chat/search.
	StrategyDefault Strategy = "Default"
	// StrategyRelationshipSuggestion is the entity-out strategy used when a
	// user hand-authors an entity.
	StrategyRelationshipSuggestion Strategy = "RelationshipSuggestion"
	// StrategyIngestion is the entity-out strategy used by the Ingestion
	// Pipeline's Retrieve-Similar stage (spec.md §4.2 stage 2).
	StrategyIngestion Strategy = "Ingestion"
	// StrategySearch produces chunks and/or entities for the search UI.
	StrategySearch Strategy = "Search"
)

// entityCentric reports whether a strategy seeds/outputs KnowledgeEntities,
// and therefore runs Graph-Expand and Chunk-Attach.
func (s Strategy) entityCentric() bool {
	switch s {
	case StrategyRelationshipSuggestion, StrategyIngestion, StrategySearch:
		return true
	default:
		return false
	}
}

// chunkCentric reports whether a strategy collects TextChunk candidates
// directly.
func (s Strategy) chunkCentric() bool {
	switch s {
	case StrategyDefault, StrategySearch:
		return true
	default:
		return false
	}
}

// Tuning holds the numeric knobs applied to one retrieval run (spec.md §4.3,
// GLOSSARY "Tuning").
type Tuning struct {
	// K is the final result cap after assembly.
	K int
	// VectorK / FTSK bound how many raw candidates each Collect-Candidates
	// branch pulls before fusion.
	VectorK int
	FTSK    int
	// NormalizeFTS toggles per-batch min-max normalization of raw FTS
	// scores (spec.md §4.3 stage 2, "tunable flag").
	NormalizeFTS bool

	// §4.4's fusion weights and RRF config are Pipeline options
	// (WithFusionWeights, WithRrfConfig), not Tuning fields. UseRRF selects
	// reciprocal-rank fusion over weighted-sum fusion for chunk merging.
	UseRRF bool

	// SeedMinScore is the Graph-Expand seed-eligibility threshold
	// (spec.md §4.3 stage 3).
	SeedMinScore float64
	// GraphTopSeeds bounds how many top fused entities seed expansion.
	GraphTopSeeds int
	// NeighbourLimit caps 1-hop neighbours considered per seed.
	NeighbourLimit int
	// ScoreDecay is the multiplier applied to a seed's fused score to
	// produce a neighbour's graph signal.
	ScoreDecay float64
	// VectorInheritance is the fraction of a seed's vector score a
	// neighbour inherits when it has none of its own.
	VectorInheritance float64

	// MaxChunksPerEntity bounds Chunk-Attach's per-entity chunk fetch.
	MaxChunksPerEntity int

	// RerankKeepTop bounds how many top-fused candidates are sent to the
	// reranker; RerankBlendWeight is alpha in final = a*rerank + (1-a)*fused;
	// RerankScoresOnly replaces the fused score outright instead of blending.
	RerankKeepTop     int
	RerankBlendWeight float64
	RerankScoresOnly  bool

	// ChunkResultCap bounds the final chunk result count; the smaller of it
	// and K applies, and K alone when ChunkResultCap <= 0.
	ChunkResultCap int
	// TokenBudgetEstimate / AvgCharsPerToken enforce a rough token budget
	// during Assemble (spec.md §4.3 stage 6).
	TokenBudgetEstimate int
	AvgCharsPerToken    float64

	// Concurrency is not read by the pipeline: candidate collection runs its
	// vector and FTS searches in parallel whatever its value.
	Concurrency int
}

// DefaultTuning matches the numeric defaults named across spec.md §4.3/§4.4.
func DefaultTuning() Tuning {
	return Tuning{
		K:                   10,
		VectorK:             50,
		FTSK:                50,
		NormalizeFTS:        true,
		UseRRF:              false,
		SeedMinScore:        0.5,
		GraphTopSeeds:       10,
		NeighbourLimit:      5,
		ScoreDecay:          0.7,
		VectorInheritance:   0.5,
		MaxChunksPerEntity:  5,
		RerankKeepTop:       50,
		RerankBlendWeight:   0.5,
		RerankScoresOnly:    false,
		ChunkResultCap:      50,
		TokenBudgetEstimate: 4000,
		AvgCharsPerToken:    4.0,
		Concurrency:         4,
	}
}

// Request is one retrieval invocation.
type Request struct {
	UserID   string
	Query    string
	Strategy Strategy
	Tuning   Tuning
	// PrecomputedVector, if non-nil, skips the Embed stage (spec.md §4.3
	// stage 1 "Skippable if the caller provided a precomputed vector").
	PrecomputedVector []float32
	// WithDiagnostics requests a populated Diagnostics in the Response.
	WithDiagnostics bool
	// Deadline, if non-zero, bounds the whole query; on expiry the most
	// recently completed stage's output is returned rather than a partial
	// in-flight stage (spec.md §5).
	Deadline time.Time
}

// RetrievedEntity is one entity hit with its attached top chunks
// (spec.md §4.3 stage 6).
type RetrievedEntity struct {
	Entity domain.KnowledgeEntity
	Score  float64
	Chunks []domain.TextChunk
}

// RetrievedChunk is one chunk hit.
type RetrievedChunk struct {
	Chunk domain.TextChunk
	Score float64
}

// Response is the strategy's output union (spec.md §4.3 stage 6,
// §9 "StrategyOutput").
type Response struct {
	Entities    []RetrievedEntity
	Chunks      []RetrievedChunk
	Diagnostics *Diagnostics
}

// StageDuration records one stage's wall-clock time for observability
// (spec.md §4.3 "Observability").
type StageDuration struct {
	Stage    string
	Duration time.Duration
}

// Diagnostics captures per-stage timings and each candidate's subscores and
// fused score. The pipeline does not fill Dropped, nor a CandidateDiagnostic's
// PostRerank or AttachedIDs.
type Diagnostics struct {
	Stages          []StageDuration
	CandidateScores map[string]CandidateDiagnostic
	Dropped         []DropReason
}

// CandidateDiagnostic is one candidate's score trail.
type CandidateDiagnostic struct {
	ID          string
	Vector      *float64
	FTS         *float64
	Graph       *float64
	Fused       float64
	PostRerank  *float64
	AttachedIDs []string
}

// DropReason names why a candidate did not make the final result set.
type DropReason struct {
	ID     string
	Reason string
}
