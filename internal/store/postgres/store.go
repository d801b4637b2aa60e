package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/store"
)

// Store implements internal/store.Store against a single Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store and best-effort bootstraps its schema, mirroring
// NewPostgresSearch/NewPostgresVector/NewPostgresGraph in the teacher.
func New(ctx context.Context, pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	s.bootstrap(ctx)
	return s
}

func (s *Store) Close() { s.pool.Close() }

// toVectorLiteral renders a []float32 as a pgvector text literal, ported
// from internal/persistence/databases/postgres_vector.go.
func toVectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// --- ContentStore ---

func (s *Store) StoreTextContent(ctx context.Context, tc domain.TextContent) error {
	var fileName, fileMIME, fileObjID, url, urlTitle, urlScreenshot any
	if tc.File != nil {
		fileName, fileMIME, fileObjID = tc.File.Name, tc.File.MIME, tc.File.ObjectID
	}
	if tc.URL != nil {
		url, urlTitle, urlScreenshot = tc.URL.URL, tc.URL.Title, tc.URL.ScreenshotID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO text_content (id, user_id, text, category, context, file_name, file_mime, file_object_id, url, url_title, url_screenshot_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, category=EXCLUDED.category, context=EXCLUDED.context,
	file_name=EXCLUDED.file_name, file_mime=EXCLUDED.file_mime, file_object_id=EXCLUDED.file_object_id,
	url=EXCLUDED.url, url_title=EXCLUDED.url_title, url_screenshot_id=EXCLUDED.url_screenshot_id,
	updated_at=now()
`, tc.ID, tc.UserID, tc.Text, tc.Category, tc.Context, fileName, fileMIME, fileObjID, url, urlTitle, urlScreenshot)
	return err
}

func (s *Store) StoreEntity(ctx context.Context, e domain.KnowledgeEntity) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO knowledge_entity (id, source_id, user_id, name, description, entity_type)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description,
	entity_type=EXCLUDED.entity_type, updated_at=now()
`, e.ID, e.SourceID, e.UserID, e.Name, e.Description, string(e.Type))
	return err
}

func (s *Store) StoreChunk(ctx context.Context, c domain.TextChunk) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO text_chunk (id, source_id, user_id, idx, text)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, idx=EXCLUDED.idx, updated_at=now()
`, c.ID, c.SourceID, c.UserID, c.Index, c.Text)
	return err
}

func (s *Store) GetEntity(ctx context.Context, id string) (domain.KnowledgeEntity, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, source_id, user_id, name, description, entity_type FROM knowledge_entity WHERE id=$1`, id)
	var e domain.KnowledgeEntity
	var typ string
	if err := row.Scan(&e.ID, &e.SourceID, &e.UserID, &e.Name, &e.Description, &typ); err != nil {
		if err == pgx.ErrNoRows {
			return domain.KnowledgeEntity{}, false, nil
		}
		return domain.KnowledgeEntity{}, false, err
	}
	e.Type = domain.EntityType(typ)
	return e, true, nil
}

func (s *Store) GetChunksBySource(ctx context.Context, sourceID string, limit int) ([]domain.TextChunk, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, source_id, user_id, idx, text FROM text_chunk WHERE source_id=$1 ORDER BY idx ASC LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TextChunk
	for rows.Next() {
		var c domain.TextChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.UserID, &c.Index, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]domain.TextChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, source_id, user_id, idx, text FROM text_chunk WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TextChunk
	for rows.Next() {
		var c domain.TextChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.UserID, &c.Index, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.KnowledgeEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, source_id, user_id, name, description, entity_type FROM knowledge_entity WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.KnowledgeEntity
	for rows.Next() {
		var e domain.KnowledgeEntity
		var typ string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.UserID, &e.Name, &e.Description, &typ); err != nil {
			return nil, err
		}
		e.Type = domain.EntityType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RebuildIndexes refreshes planner statistics after a bulk write. Postgres
// has no explicit "rebuild HNSW" step outside a dimension change (§4.6);
// ANALYZE is the routine-path equivalent of the teacher's rebuild_indexes.
func (s *Store) RebuildIndexes(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `ANALYZE knowledge_entity, text_chunk, entity_embedding, chunk_embedding`)
	return err
}

// --- VectorStore ---

func (s *Store) UpsertEntityEmbedding(ctx context.Context, emb domain.EntityEmbedding) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO entity_embedding (id, entity_id, user_id, vector) VALUES ($1,$2,$3,$4::vector)
ON CONFLICT (id) DO UPDATE SET vector=EXCLUDED.vector
`, emb.ID, emb.EntityID, emb.UserID, toVectorLiteral(emb.Vector))
	return err
}

func (s *Store) UpsertChunkEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO chunk_embedding (id, chunk_id, user_id, vector) VALUES ($1,$2,$3,$4::vector)
ON CONFLICT (id) DO UPDATE SET vector=EXCLUDED.vector
`, emb.ID, emb.ChunkID, emb.UserID, toVectorLiteral(emb.Vector))
	return err
}

func (s *Store) searchVector(ctx context.Context, table, fkCol, userID string, query []float32, k int) ([]store.VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	stmt := fmt.Sprintf(`SELECT %s, vector <-> $1::vector AS distance FROM %s WHERE user_id=$2 ORDER BY distance ASC LIMIT $3`, fkCol, table)
	rows, err := s.pool.Query(ctx, stmt, toVectorLiteral(query), userID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.VectorResult
	for rows.Next() {
		var r store.VectorResult
		if err := rows.Scan(&r.ID, &r.Distance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SearchEntitiesByVector(ctx context.Context, userID string, query []float32, k int) ([]store.VectorResult, error) {
	return s.searchVector(ctx, "entity_embedding", "entity_id", userID, query, k)
}

func (s *Store) SearchChunksByVector(ctx context.Context, userID string, query []float32, k int) ([]store.VectorResult, error) {
	return s.searchVector(ctx, "chunk_embedding", "chunk_id", userID, query, k)
}

func (s *Store) Dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT vector_dims(vector) FROM entity_embedding LIMIT 1`).Scan(&dim)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return dim, err
}

// --- FullTextSearch ---

func (s *Store) IndexEntity(ctx context.Context, e domain.KnowledgeEntity) error {
	// Entity FTS is a generated column over name/description; indexing is
	// implicit in StoreEntity. Exposed for interface symmetry with teacher.
	return s.StoreEntity(ctx, e)
}

func (s *Store) IndexChunk(ctx context.Context, c domain.TextChunk) error {
	return s.StoreChunk(ctx, c)
}

func (s *Store) SearchEntitiesByText(ctx context.Context, userID, query string, limit int) ([]store.FTSResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, ts_rank(ts, websearch_to_tsquery('simple',$1)) AS score
FROM knowledge_entity
WHERE user_id=$2 AND ts @@ websearch_to_tsquery('simple',$1)
ORDER BY score DESC LIMIT $3`, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.FTSResult
	for rows.Next() {
		var r store.FTSResult
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SearchChunksByText(ctx context.Context, userID, query string, limit int) ([]store.FTSResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, ts_rank(ts, websearch_to_tsquery('simple',$1)) AS score
FROM text_chunk
WHERE user_id=$2 AND ts @@ websearch_to_tsquery('simple',$1)
ORDER BY score DESC LIMIT $3`, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.FTSResult
	for rows.Next() {
		var r store.FTSResult
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- GraphStore ---

func (s *Store) UpsertEdge(ctx context.Context, edge domain.RelatesTo) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO relates_to (id, in_id, out_id, user_id, source_id, relationship_type)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET relationship_type=EXCLUDED.relationship_type
`, edge.ID, edge.InID, edge.OutID, edge.UserID, edge.SourceID, edge.RelationshipType)
	return err
}

func (s *Store) Neighbors(ctx context.Context, entityID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT out_id FROM relates_to WHERE in_id=$1
UNION
SELECT in_id FROM relates_to WHERE out_id=$1
LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
