// Package config defines the process configuration tree and its loader:
// an optional YAML file (lowest precedence) overlaid by environment
// variables (highest precedence), mirroring the teacher's
// internal/config/loader.go env-first style extended with the structured
// file format SPEC_FULL.md's configuration section calls for.
package config

import "time"

// Config is the full process configuration.
type Config struct {
	Store     StoreConfig       `yaml:"store"`
	TaskQueue TaskQueueConfig   `yaml:"task_queue"`
	Retrieval RetrievalConfig   `yaml:"retrieval"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	LLM       LLMConfig         `yaml:"llm"`
	S3        S3Config          `yaml:"s3"`
	WebFetch  WebFetchConfig    `yaml:"web_fetch"`
	Obs       ObsConfig         `yaml:"observability"`
	Reranker  RerankerConfig    `yaml:"reranker"`
	Flags     map[string]bool   `yaml:"flags"`
	LogLevel  string            `yaml:"log_level"`
	WorkerID  string            `yaml:"worker_id"`
}

// StoreConfig is the Postgres connection, plus the optional alternative
// Qdrant vector backend (spec.md §6 names the vector index as pluggable
// behind the Store client's narrow VectorStore contract).
type StoreConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	VectorBackend          string `yaml:"vector_backend"` // "pgvector" (default) or "qdrant"
	QdrantDSN              string `yaml:"qdrant_dsn"`
	QdrantEntityCollection string `yaml:"qdrant_entity_collection"`
	QdrantChunkCollection  string `yaml:"qdrant_chunk_collection"`
}

// TaskQueueConfig holds the Task Queue's retry/lease knobs (spec.md §4.1)
// and the optional Redis pub/sub fan-out used as a secondary, lighter-weight
// change-feed wake-up hint alongside the Store's native one.
type TaskQueueConfig struct {
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	BackoffCap         int           `yaml:"backoff_cap"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	LeaseDuration      time.Duration `yaml:"lease_duration"`
	ReapInterval       time.Duration `yaml:"reap_interval"`
	Concurrency        int           `yaml:"concurrency"`
	PollInterval       time.Duration `yaml:"poll_interval"`

	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// RetrievalConfig carries the default Tuning numbers (spec.md §4.3/§4.4).
type RetrievalConfig struct {
	K                   int     `yaml:"k"`
	VectorK             int     `yaml:"vector_k"`
	FTSK                int     `yaml:"fts_k"`
	NormalizeFTS        bool    `yaml:"normalize_fts"`
	SeedMinScore        float64 `yaml:"seed_min_score"`
	GraphTopSeeds       int     `yaml:"graph_top_seeds"`
	NeighbourLimit      int     `yaml:"neighbour_limit"`
	ScoreDecay          float64 `yaml:"score_decay"`
	VectorInheritance   float64 `yaml:"vector_inheritance"`
	MaxChunksPerEntity  int     `yaml:"max_chunks_per_entity"`
	RerankKeepTop       int     `yaml:"rerank_keep_top"`
	RerankBlendWeight   float64 `yaml:"rerank_blend_weight"`
	ChunkResultCap      int     `yaml:"chunk_result_cap"`
	TokenBudgetEstimate int     `yaml:"token_budget_estimate"`
	AvgCharsPerToken    float64 `yaml:"avg_chars_per_token"`
}

// EmbeddingConfig configures the Embedding Provider (spec.md §6).
type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	// Deterministic forces the dependency-free fallback even when Endpoint
	// is set, useful for local development and tests.
	Deterministic bool `yaml:"deterministic"`
}

// AnthropicConfig holds Anthropic-specific connection settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig holds OpenAI-specific connection settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// LLMConfig selects and configures the enrichment/query LLM provider.
type LLMConfig struct {
	Provider  string          `yaml:"provider"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// S3SSEConfig configures server-side encryption on object writes.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id"`
}

// S3Config configures the object store backing file/screenshot attachments.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	Endpoint              string      `yaml:"endpoint"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	Prefix                string      `yaml:"prefix"`
	SSE                   S3SSEConfig `yaml:"sse"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
}

// WebFetchConfig configures the headless-browser URL ingestion branch.
type WebFetchConfig struct {
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Timeout time.Duration `yaml:"timeout"`
}

// RerankerConfig sizes the cross-encoder pool (spec.md §4.5). Endpoint/Model
// select the remote cross-encoder service; PoolSize=0 disables reranking
// regardless of Endpoint.
type RerankerConfig struct {
	PoolSize int    `yaml:"pool_size"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// ObsConfig configures OpenTelemetry export (spec.md "Observability").
type ObsConfig struct {
	OTLP           string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}
