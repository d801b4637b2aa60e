// Command worker runs the Worker Loop (spec.md §2): it claims ready
// IngestionTasks from the Task Queue, drives each through the Ingestion
// Pipeline, and exits cleanly on SIGINT/SIGTERM. Wiring here is the one
// place the core's otherwise-library-shaped packages are assembled into a
// runnable process; the HTTP surface that enqueues tasks is out of scope
// (spec.md §1).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"knowledgecore/internal/config"
	"knowledgecore/internal/embedding"
	"knowledgecore/internal/ingestion"
	"knowledgecore/internal/ingestion/content"
	"knowledgecore/internal/llm/providers"
	"knowledgecore/internal/objectstore"
	"knowledgecore/internal/obs"
	"knowledgecore/internal/reranker"
	"knowledgecore/internal/retrieval"
	"knowledgecore/internal/store"
	"knowledgecore/internal/store/postgres"
	"knowledgecore/internal/store/qdrant"
	"knowledgecore/internal/taskqueue"
	"knowledgecore/internal/taskqueue/notify"
	"knowledgecore/internal/webfetch"
	"knowledgecore/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	initLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.Metrics(obs.NoopMetrics{})
	if cfg.Obs.OTLP != "" {
		shutdown, err := obs.InitTelemetry(ctx, obs.TelemetryConfig{
			OTLP: cfg.Obs.OTLP, ServiceName: cfg.Obs.ServiceName,
			ServiceVersion: cfg.Obs.ServiceVersion, Environment: cfg.Obs.Environment,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(context.Background())
		metrics = obs.NewOtelMetrics()
	}

	pool, err := postgres.OpenPool(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	pgStore := postgres.New(ctx, pool)

	st, err := buildStore(ctx, cfg.Store, pgStore)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer st.Close()

	embedder := buildEmbedder(cfg.Embedding)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	llmClient, err := providers.Build(cfg.LLM, httpClient)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	rerankPool := buildRerankPool(cfg.Reranker, httpClient)
	defer rerankPool.Close()

	retrievalPipeline := retrieval.New(st, embedder, rerankPool,
		retrieval.WithLogger(obs.ZerologLogger{L: log.Logger}),
		retrieval.WithMetrics(metrics),
	)

	objects, err := objectstore.NewS3Store(ctx, cfg.S3, objectstore.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	browser := webfetch.NewChromeBrowser()
	if cfg.WebFetch.Width > 0 {
		browser.Width = cfg.WebFetch.Width
	}
	if cfg.WebFetch.Height > 0 {
		browser.Height = cfg.WebFetch.Height
	}

	pipeline := ingestion.New(ingestion.Deps{
		Content: content.Deps{
			Browser: browser,
			Objects: objects,
		},
		Retrieval: retrievalPipeline,
		LLM:       llmClient,
		Persist: ingestion.PersistDeps{
			Store:            st,
			Embedder:         embedder,
			ChunkConcurrency: 4,
		},
		Logger: obs.ZerologLogger{L: log.Logger},
	})

	queueOpts := []taskqueue.Option{
		taskqueue.WithPolicy(taskqueue.Policy{
			MaxAttempts:   cfg.TaskQueue.DefaultMaxAttempts,
			BaseDelay:     cfg.TaskQueue.BaseDelay,
			MaxDelay:      cfg.TaskQueue.MaxDelay,
			BackoffCap:    cfg.TaskQueue.BackoffCap,
			LeaseDuration: cfg.TaskQueue.LeaseDuration,
		}),
		taskqueue.WithLogger(log.Logger),
	}
	if cfg.TaskQueue.RedisAddr != "" {
		redisNotifier := notify.NewRedis(cfg.TaskQueue.RedisAddr, cfg.TaskQueue.RedisChannel)
		defer redisNotifier.Close()
		queueOpts = append(queueOpts, taskqueue.WithNotifier(redisNotifier))
	}
	queue := taskqueue.New(st, queueOpts...)

	loop := worker.New(queue, pipeline, worker.Config{
		WorkerID:      cfg.WorkerID,
		Concurrency:   cfg.TaskQueue.Concurrency,
		PollInterval:  cfg.TaskQueue.PollInterval,
		ReapInterval:  cfg.TaskQueue.ReapInterval,
		LeaseDuration: cfg.TaskQueue.LeaseDuration,
	}, obs.ZerologLogger{L: log.Logger})

	log.Info().Msg("worker loop starting")
	return loop.Run(ctx)
}

// buildStore wraps pgStore (always the content/FTS/graph/task backend) with
// an alternative VectorStore when cfg selects one, per spec.md §6's
// "pluggable" vector index.
func buildStore(ctx context.Context, cfg config.StoreConfig, pgStore *postgres.Store) (store.Store, error) {
	if strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) != "qdrant" {
		return pgStore, nil
	}
	dim, err := pgStore.Dimension(ctx)
	if err != nil || dim <= 0 {
		dim = 1536
	}
	qs, err := qdrant.New(ctx, qdrant.Config{
		DSN:              cfg.QdrantDSN,
		EntityCollection: cfg.QdrantEntityCollection,
		ChunkCollection:  cfg.QdrantChunkCollection,
		Dimension:        dim,
	})
	if err != nil {
		return nil, fmt.Errorf("build qdrant vector store: %w", err)
	}
	return store.Hybrid{Store: pgStore, Vectors: qs}, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) embedding.Provider {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	if cfg.Deterministic || cfg.Endpoint == "" {
		return embedding.NewDeterministic(dim)
	}
	return embedding.NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, dim, &http.Client{Timeout: 30 * time.Second})
}

func buildRerankPool(cfg config.RerankerConfig, httpClient *http.Client) *reranker.Pool {
	if cfg.PoolSize <= 0 || strings.TrimSpace(cfg.Endpoint) == "" {
		return reranker.New(nil)
	}
	instances := make([]reranker.CrossEncoder, cfg.PoolSize)
	for i := range instances {
		instances[i] = reranker.NewHTTPCrossEncoder(cfg.Endpoint, cfg.Model, httpClient)
	}
	return reranker.New(instances)
}

func initLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(os.Stdout).With().Timestamp().Logger()
	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		lvl = l
	}
	zerolog.SetGlobalLevel(lvl)
}
