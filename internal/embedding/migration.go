package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"knowledgecore/internal/store"
)

// MigrationJob implements spec.md §4.6: a rare, administrator-triggered
// background job that regenerates every entity and chunk embedding after
// SystemSettings.embedding_dimension changes, then atomically redefines the
// HNSW index and writes the new vectors in one transaction per record
// class. If any regenerated vector has the wrong length, the whole
// operation aborts before any write reaches the store.
type MigrationJob struct {
	content  store.ContentStore
	migrator store.DimensionMigrator
	provider Provider
	log      zerolog.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewMigrationJob builds a MigrationJob. s must implement
// store.DimensionMigrator; NewMigrationJob returns an error if it does not.
func NewMigrationJob(content store.ContentStore, s store.Store, provider Provider, log zerolog.Logger) (*MigrationJob, error) {
	migrator, ok := s.(store.DimensionMigrator)
	if !ok {
		return nil, fmt.Errorf("store backend does not support dimension migration")
	}
	return &MigrationJob{
		content:    content,
		migrator:   migrator,
		provider:   provider,
		log:        log,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Run regenerates every entity and chunk embedding using the job's
// Provider and swaps them into the store at the Provider's dimension.
func (j *MigrationJob) Run(ctx context.Context) error {
	newDim := j.provider.Dimension()

	entityIDs, err := j.migrator.AllEntityIDs(ctx)
	if err != nil {
		return fmt.Errorf("list entity ids: %w", err)
	}
	chunkIDs, err := j.migrator.AllChunkIDs(ctx)
	if err != nil {
		return fmt.Errorf("list chunk ids: %w", err)
	}
	j.log.Info().Int("entities", len(entityIDs)).Int("chunks", len(chunkIDs)).
		Int("new_dimension", newDim).Msg("starting embedding dimension migration")

	entities, err := j.content.GetEntitiesByIDs(ctx, entityIDs)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	chunks, err := j.content.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}

	entityVectors := make(map[string][]float32, len(entities))
	for _, e := range entities {
		// Same text shape the Ingestion Pipeline's Persist stage embeds.
		text := fmt.Sprintf("name: %s description: %s type: %s", e.Name, e.Description, e.Type)
		vec, err := j.embedWithRetry(ctx, text)
		if err != nil {
			return fmt.Errorf("embed entity %s: %w", e.ID, err)
		}
		if len(vec) != newDim {
			return fmt.Errorf("entity %s: provider returned length %d, want %d", e.ID, len(vec), newDim)
		}
		entityVectors[e.ID] = vec
	}

	chunkVectors := make(map[string][]float32, len(chunks))
	for _, c := range chunks {
		vec, err := j.embedWithRetry(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		if len(vec) != newDim {
			return fmt.Errorf("chunk %s: provider returned length %d, want %d", c.ID, len(vec), newDim)
		}
		chunkVectors[c.ID] = vec
	}

	if err := j.migrator.MigrateEmbeddingDimension(ctx, newDim, entityVectors, chunkVectors); err != nil {
		return fmt.Errorf("swap embedding dimension: %w", err)
	}
	j.log.Info().Int("new_dimension", newDim).Msg("embedding dimension migration complete")
	return nil
}

func (j *MigrationJob) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(j.retryDelay):
			}
		}
		vec, err := j.provider.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
