// Command migrate-dimension runs the spec.md §4.6 administrative job: it
// regenerates every KnowledgeEntity and TextChunk embedding against the
// currently configured Embedding Provider and swaps them into the store's
// vector index in one transaction per record class. This is deliberately a
// separate process from cmd/worker, matching spec.md's "rare administrative
// action, not part of a normal request path".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"knowledgecore/internal/config"
	"knowledgecore/internal/embedding"
	"knowledgecore/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("dimension migration failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Logger = log.Output(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.OpenPool(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := postgres.New(ctx, pool)
	defer st.Close()

	dim := cfg.Embedding.Dimension
	if dim <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be set to the new target dimension")
	}
	var provider embedding.Provider
	if cfg.Embedding.Deterministic || cfg.Embedding.Endpoint == "" {
		provider = embedding.NewDeterministic(dim)
	} else {
		provider = embedding.NewClient(cfg.Embedding.Endpoint, cfg.Embedding.APIKey, cfg.Embedding.Model, dim, nil)
	}

	job, err := embedding.NewMigrationJob(st, st, provider, log.Logger)
	if err != nil {
		return fmt.Errorf("build migration job: %w", err)
	}

	log.Info().Int("new_dimension", dim).Msg("starting embedding dimension migration")
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("run migration: %w", err)
	}
	log.Info().Msg("embedding dimension migration complete")
	return nil
}
