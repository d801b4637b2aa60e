package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the process Config in three layers, lowest precedence first:
// hardcoded defaults, an optional CONFIG_FILE YAML document, then
// environment variables (with .env overlaid via godotenv.Overload so a
// local file deterministically wins over a stale shell export).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := defaultConfig()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg.Store.DSN = firstNonEmpty(strings.TrimSpace(os.Getenv("DATABASE_URL")), strings.TrimSpace(os.Getenv("POSTGRES_DSN")), cfg.Store.DSN)
	cfg.Store.MaxConns = intFromEnv("DB_MAX_CONNS", cfg.Store.MaxConns)
	cfg.Store.MinConns = intFromEnv("DB_MIN_CONNS", cfg.Store.MinConns)
	cfg.Store.ConnMaxLifetime = durationFromEnvMinutes("DB_CONN_MAX_LIFETIME_MINUTES", cfg.Store.ConnMaxLifetime)
	cfg.Store.VectorBackend = strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")), cfg.Store.VectorBackend))
	cfg.Store.QdrantDSN = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_DSN")), cfg.Store.QdrantDSN)
	cfg.Store.QdrantEntityCollection = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_ENTITY_COLLECTION")), cfg.Store.QdrantEntityCollection)
	cfg.Store.QdrantChunkCollection = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_CHUNK_COLLECTION")), cfg.Store.QdrantChunkCollection)

	cfg.TaskQueue.BaseDelay = durationFromEnvSeconds("TASKQUEUE_BASE_DELAY_SECONDS", cfg.TaskQueue.BaseDelay)
	cfg.TaskQueue.MaxDelay = durationFromEnvSeconds("TASKQUEUE_MAX_DELAY_SECONDS", cfg.TaskQueue.MaxDelay)
	cfg.TaskQueue.BackoffCap = intFromEnv("TASKQUEUE_BACKOFF_CAP", cfg.TaskQueue.BackoffCap)
	cfg.TaskQueue.DefaultMaxAttempts = intFromEnv("TASKQUEUE_MAX_ATTEMPTS", cfg.TaskQueue.DefaultMaxAttempts)
	cfg.TaskQueue.LeaseDuration = durationFromEnvSeconds("TASKQUEUE_LEASE_SECONDS", cfg.TaskQueue.LeaseDuration)
	cfg.TaskQueue.ReapInterval = durationFromEnvSeconds("TASKQUEUE_REAP_INTERVAL_SECONDS", cfg.TaskQueue.ReapInterval)
	cfg.TaskQueue.Concurrency = intFromEnv("TASKQUEUE_CONCURRENCY", cfg.TaskQueue.Concurrency)
	cfg.TaskQueue.PollInterval = durationFromEnvSeconds("TASKQUEUE_POLL_INTERVAL_SECONDS", cfg.TaskQueue.PollInterval)
	cfg.TaskQueue.RedisAddr = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_ADDR")), cfg.TaskQueue.RedisAddr)
	cfg.TaskQueue.RedisChannel = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_CHANNEL")), cfg.TaskQueue.RedisChannel)

	cfg.Retrieval.K = intFromEnv("RETRIEVAL_K", cfg.Retrieval.K)
	cfg.Retrieval.VectorK = intFromEnv("RETRIEVAL_VECTOR_K", cfg.Retrieval.VectorK)
	cfg.Retrieval.FTSK = intFromEnv("RETRIEVAL_FTS_K", cfg.Retrieval.FTSK)
	cfg.Retrieval.NormalizeFTS = boolFromEnv("RETRIEVAL_NORMALIZE_FTS", cfg.Retrieval.NormalizeFTS)
	cfg.Retrieval.SeedMinScore = floatFromEnv("RETRIEVAL_SEED_MIN_SCORE", cfg.Retrieval.SeedMinScore)
	cfg.Retrieval.GraphTopSeeds = intFromEnv("RETRIEVAL_GRAPH_TOP_SEEDS", cfg.Retrieval.GraphTopSeeds)
	cfg.Retrieval.NeighbourLimit = intFromEnv("RETRIEVAL_NEIGHBOUR_LIMIT", cfg.Retrieval.NeighbourLimit)
	cfg.Retrieval.ScoreDecay = floatFromEnv("RETRIEVAL_SCORE_DECAY", cfg.Retrieval.ScoreDecay)
	cfg.Retrieval.VectorInheritance = floatFromEnv("RETRIEVAL_VECTOR_INHERITANCE", cfg.Retrieval.VectorInheritance)
	cfg.Retrieval.MaxChunksPerEntity = intFromEnv("RETRIEVAL_MAX_CHUNKS_PER_ENTITY", cfg.Retrieval.MaxChunksPerEntity)
	cfg.Retrieval.RerankKeepTop = intFromEnv("RETRIEVAL_RERANK_KEEP_TOP", cfg.Retrieval.RerankKeepTop)
	cfg.Retrieval.RerankBlendWeight = floatFromEnv("RETRIEVAL_RERANK_BLEND_WEIGHT", cfg.Retrieval.RerankBlendWeight)
	cfg.Retrieval.ChunkResultCap = intFromEnv("RETRIEVAL_CHUNK_RESULT_CAP", cfg.Retrieval.ChunkResultCap)
	cfg.Retrieval.TokenBudgetEstimate = intFromEnv("RETRIEVAL_TOKEN_BUDGET_ESTIMATE", cfg.Retrieval.TokenBudgetEstimate)
	cfg.Retrieval.AvgCharsPerToken = floatFromEnv("RETRIEVAL_AVG_CHARS_PER_TOKEN", cfg.Retrieval.AvgCharsPerToken)

	cfg.Embedding.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBEDDING_ENDPOINT")), cfg.Embedding.Endpoint)
	cfg.Embedding.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")), cfg.Embedding.APIKey)
	cfg.Embedding.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")), cfg.Embedding.Model)
	cfg.Embedding.Dimension = intFromEnv("EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.Deterministic = boolFromEnv("EMBEDDING_DETERMINISTIC", cfg.Embedding.Deterministic || cfg.Embedding.Endpoint == "")

	cfg.LLM.Provider = firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_PROVIDER")), cfg.LLM.Provider)
	cfg.LLM.Anthropic.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")), cfg.LLM.Anthropic.APIKey)
	cfg.LLM.Anthropic.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), cfg.LLM.Anthropic.Model)
	cfg.LLM.Anthropic.BaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")), cfg.LLM.Anthropic.BaseURL)
	cfg.LLM.OpenAI.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_API_KEY")), cfg.LLM.OpenAI.APIKey)
	cfg.LLM.OpenAI.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), cfg.LLM.OpenAI.Model)
	cfg.LLM.OpenAI.BaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")), strings.TrimSpace(os.Getenv("OPENAI_API_BASE_URL")), cfg.LLM.OpenAI.BaseURL)

	cfg.S3.Bucket = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_BUCKET")), cfg.S3.Bucket)
	cfg.S3.Region = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_REGION")), cfg.S3.Region)
	cfg.S3.AccessKey = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")), cfg.S3.AccessKey)
	cfg.S3.SecretKey = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_SECRET_KEY")), cfg.S3.SecretKey)
	cfg.S3.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_ENDPOINT")), cfg.S3.Endpoint)
	cfg.S3.UsePathStyle = boolFromEnv("S3_USE_PATH_STYLE", cfg.S3.UsePathStyle)
	cfg.S3.Prefix = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_PREFIX")), cfg.S3.Prefix)
	cfg.S3.TLSInsecureSkipVerify = boolFromEnv("S3_TLS_INSECURE_SKIP_VERIFY", cfg.S3.TLSInsecureSkipVerify)
	cfg.S3.SSE.Mode = strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("S3_SSE_MODE")), cfg.S3.SSE.Mode))
	cfg.S3.SSE.KMSKeyID = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_SSE_KMS_KEY_ID")), cfg.S3.SSE.KMSKeyID)

	cfg.WebFetch.Width = intFromEnv("WEBFETCH_WIDTH", cfg.WebFetch.Width)
	cfg.WebFetch.Height = intFromEnv("WEBFETCH_HEIGHT", cfg.WebFetch.Height)
	cfg.WebFetch.Timeout = durationFromEnvSeconds("WEBFETCH_TIMEOUT_SECONDS", cfg.WebFetch.Timeout)

	cfg.Reranker.PoolSize = intFromEnv("RERANKER_POOL_SIZE", cfg.Reranker.PoolSize)
	cfg.Reranker.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("RERANKER_ENDPOINT")), cfg.Reranker.Endpoint)
	cfg.Reranker.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("RERANKER_MODEL")), cfg.Reranker.Model)

	cfg.Obs.OTLP = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")), cfg.Obs.OTLP)
	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), cfg.Obs.ServiceName)
	cfg.Obs.ServiceVersion = firstNonEmpty(strings.TrimSpace(os.Getenv("SERVICE_VERSION")), cfg.Obs.ServiceVersion)
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), cfg.Obs.Environment)

	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), cfg.LogLevel)
	cfg.WorkerID = firstNonEmpty(strings.TrimSpace(os.Getenv("WORKER_ID")), cfg.WorkerID)

	if raw := strings.TrimSpace(os.Getenv("FEATURE_FLAGS")); raw != "" {
		if cfg.Flags == nil {
			cfg.Flags = map[string]bool{}
		}
		for _, pair := range strings.Split(raw, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, val, found := strings.Cut(pair, "=")
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !found {
				cfg.Flags[name] = true
				continue
			}
			cfg.Flags[name] = strings.EqualFold(strings.TrimSpace(val), "true") || strings.TrimSpace(val) == "1"
		}
	}

	return cfg, nil
}

// defaultConfig holds the lowest-precedence values, overridable first by a
// CONFIG_FILE YAML document and then by environment variables.
func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			MaxConns:               10,
			MinConns:               2,
			ConnMaxLifetime:        30 * time.Minute,
			VectorBackend:          "pgvector",
			QdrantEntityCollection: "knowledge_entity_embeddings",
			QdrantChunkCollection:  "text_chunk_embeddings",
		},
		TaskQueue: TaskQueueConfig{
			BaseDelay:          time.Second,
			MaxDelay:           5 * time.Minute,
			BackoffCap:         6,
			DefaultMaxAttempts: 5,
			LeaseDuration:      60 * time.Second,
			ReapInterval:       30 * time.Second,
			Concurrency:        4,
			PollInterval:       2 * time.Second,
			RedisChannel:       "knowledgecore:task_changes",
		},
		Retrieval: RetrievalConfig{
			K: 10, VectorK: 50, FTSK: 50, NormalizeFTS: true, SeedMinScore: 0.5,
			GraphTopSeeds: 10, NeighbourLimit: 5, ScoreDecay: 0.7, VectorInheritance: 0.5,
			MaxChunksPerEntity: 5, RerankKeepTop: 50, RerankBlendWeight: 0.5,
			ChunkResultCap: 50, TokenBudgetEstimate: 4000, AvgCharsPerToken: 4.0,
		},
		Embedding: EmbeddingConfig{Dimension: 256},
		LLM: LLMConfig{
			Anthropic: AnthropicConfig{Model: "claude-sonnet-4-5"},
			OpenAI:    OpenAIConfig{Model: "gpt-4o-mini"},
		},
		S3:       S3Config{Region: "us-east-1"},
		WebFetch: WebFetchConfig{Width: 1440, Height: 900, Timeout: 30 * time.Second},
		Reranker: RerankerConfig{Model: "bge-reranker-v2-m3"},
		Obs:      ObsConfig{ServiceName: "knowledgecore", Environment: "development"},
		LogLevel: "info",
		Flags:    map[string]bool{},
	}
}

// loadYAMLFile unmarshals a YAML document onto cfg, overriding only the
// fields present in the file -- it decodes into the already-defaulted
// struct rather than a zero one, matching the teacher's layered-override
// style (internal/config.Load's env-first-then-defaults) extended with a
// file layer beneath the environment.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}

func durationFromEnvSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func durationFromEnvMinutes(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Minute
		}
	}
	return def
}
