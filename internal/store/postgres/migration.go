package postgres

import (
	"context"
	"fmt"
)

// AllEntityIDs and AllChunkIDs back the §4.6 dimension-migration job: it
// needs the full id set for each record class before it can regenerate
// embeddings en masse.
func (s *Store) AllEntityIDs(ctx context.Context) ([]string, error) {
	return s.allIDs(ctx, "SELECT id FROM knowledge_entity")
}

func (s *Store) AllChunkIDs(ctx context.Context) ([]string, error) {
	return s.allIDs(ctx, "SELECT id FROM text_chunk")
}

func (s *Store) allIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MigrateEmbeddingDimension performs the §4.6 swap: every supplied vector
// must already match newDim (the caller validates before calling this, and
// it is re-checked here) so the whole operation, for both record classes,
// runs as one transaction, redefining the column types and overwriting each
// row's embedding. Any mismatch aborts before any write.
func (s *Store) MigrateEmbeddingDimension(ctx context.Context, newDim int, entityVectors map[string][]float32, chunkVectors map[string][]float32) error {
	for id, v := range entityVectors {
		if len(v) != newDim {
			return fmt.Errorf("entity %s: embedding has length %d, want %d", id, len(v), newDim)
		}
	}
	for id, v := range chunkVectors {
		if len(v) != newDim {
			return fmt.Errorf("chunk %s: embedding has length %d, want %d", id, len(v), newDim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`ALTER TABLE entity_embedding ALTER COLUMN vector TYPE vector(%d)`, newDim)
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("redefine entity_embedding.vector: %w", err)
	}
	stmt = fmt.Sprintf(`ALTER TABLE chunk_embedding ALTER COLUMN vector TYPE vector(%d)`, newDim)
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("redefine chunk_embedding.vector: %w", err)
	}

	for entityID, v := range entityVectors {
		if _, err := tx.Exec(ctx, `UPDATE entity_embedding SET vector=$1::vector WHERE entity_id=$2`,
			toVectorLiteral(v), entityID); err != nil {
			return fmt.Errorf("update entity_embedding for %s: %w", entityID, err)
		}
	}
	for chunkID, v := range chunkVectors {
		if _, err := tx.Exec(ctx, `UPDATE chunk_embedding SET vector=$1::vector WHERE chunk_id=$2`,
			toVectorLiteral(v), chunkID); err != nil {
			return fmt.Errorf("update chunk_embedding for %s: %w", chunkID, err)
		}
	}

	if _, err := tx.Exec(ctx, `DROP INDEX IF EXISTS entity_embedding_hnsw_idx`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DROP INDEX IF EXISTS chunk_embedding_hnsw_idx`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `CREATE INDEX entity_embedding_hnsw_idx ON entity_embedding USING hnsw (vector vector_l2_ops)`); err != nil {
		return fmt.Errorf("rebuild entity_embedding hnsw index: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE INDEX chunk_embedding_hnsw_idx ON chunk_embedding USING hnsw (vector vector_l2_ops)`); err != nil {
		return fmt.Errorf("rebuild chunk_embedding hnsw index: %w", err)
	}

	return tx.Commit(ctx)
}
