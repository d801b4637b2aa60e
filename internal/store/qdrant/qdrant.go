// Package qdrant implements internal/store.VectorStore against Qdrant,
// offered as the alternative dense-vector backend spec.md §6 allows behind
// the narrow Store client contract (internal/store/postgres's pgvector HNSW
// index is the default). Adapted near-verbatim from the teacher's
// internal/persistence/databases/qdrant_vector.go: the deterministic
// UUID-from-string point-id trick (Qdrant only accepts UUID or uint64 point
// ids) and the original-id-in-payload round trip are kept as-is; the
// single generic collection is split into two (entities, chunks) to match
// spec.md §3's EntityEmbedding/ChunkEmbedding sibling-row split, and every
// point carries a user_id payload field so search stays scoped per spec.md
// §8's ownership invariant.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	qdrantpb "github.com/qdrant/go-client/qdrant"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/store"
)

const originalIDField = "_original_id"
const userIDField = "user_id"
const refIDField = "ref_id"

// Store implements internal/store.VectorStore over two Qdrant collections.
type Store struct {
	client           *qdrantpb.Client
	entityCollection string
	chunkCollection  string
	dimension        int
}

// Config names the collections and connection details.
type Config struct {
	DSN              string // e.g. "http://localhost:6334?api_key=..."
	EntityCollection string
	ChunkCollection  string
	Dimension        int
}

// New connects to Qdrant and ensures both collections exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.EntityCollection == "" {
		cfg.EntityCollection = "knowledge_entity_embeddings"
	}
	if cfg.ChunkCollection == "" {
		cfg.ChunkCollection = "text_chunk_embeddings"
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be > 0")
	}

	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}

	clientCfg := &qdrantpb.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		clientCfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		clientCfg.APIKey = apiKey
	}

	client, err := qdrantpb.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}

	s := &Store{
		client:           client,
		entityCollection: cfg.EntityCollection,
		chunkCollection:  cfg.ChunkCollection,
		dimension:        cfg.Dimension,
	}
	for _, collection := range []string{cfg.EntityCollection, cfg.ChunkCollection} {
		if err := s.ensureCollection(ctx, collection); err != nil {
			client.Close()
			return nil, fmt.Errorf("qdrant: ensure collection %q: %w", collection, err)
		}
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrantpb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrantpb.NewVectorsConfig(&qdrantpb.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrantpb.Distance_Cosine,
		}),
	})
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *Store) upsert(ctx context.Context, collection, embeddingID, refID, userID string, vector []float32) error {
	uid := pointID(embeddingID)
	payload := map[string]any{
		userIDField: userID,
		refIDField:  refID,
	}
	if uid != embeddingID {
		payload[originalIDField] = embeddingID
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := s.client.Upsert(ctx, &qdrantpb.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrantpb.PointStruct{{
			Id:      qdrantpb.NewIDUUID(uid),
			Vectors: qdrantpb.NewVectorsDense(vec),
			Payload: qdrantpb.NewValueMap(payload),
		}},
	})
	return err
}

// UpsertEntityEmbedding stores one KnowledgeEntity's embedding point.
func (s *Store) UpsertEntityEmbedding(ctx context.Context, emb domain.EntityEmbedding) error {
	return s.upsert(ctx, s.entityCollection, emb.ID, emb.EntityID, emb.UserID, emb.Vector)
}

// UpsertChunkEmbedding stores one TextChunk's embedding point.
func (s *Store) UpsertChunkEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error {
	return s.upsert(ctx, s.chunkCollection, emb.ID, emb.ChunkID, emb.UserID, emb.Vector)
}

func (s *Store) search(ctx context.Context, collection, userID string, query []float32, k int) ([]store.VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrantpb.QueryPoints{
		CollectionName: collection,
		Query:          qdrantpb.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrantpb.Filter{Must: []*qdrantpb.Condition{qdrantpb.NewMatch(userIDField, userID)}},
		WithPayload:    qdrantpb.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]store.VectorResult, 0, len(hits))
	for _, hit := range hits {
		refID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[refIDField]; ok {
				refID = v.GetStringValue()
			}
		}
		if refID == "" {
			continue
		}
		// Qdrant's cosine Query returns similarity in roughly [-1,1]; we
		// report the cosine-distance equivalent (1-score) so callers can
		// apply scoring.DistanceToSimilarity uniformly across backends,
		// matching the raw-distance convention of internal/store/postgres.
		out = append(out, store.VectorResult{ID: refID, Distance: 1 - float64(hit.Score)})
	}
	return out, nil
}

// SearchEntitiesByVector runs an approximate k-NN search over the entity
// collection scoped to userID.
func (s *Store) SearchEntitiesByVector(ctx context.Context, userID string, query []float32, k int) ([]store.VectorResult, error) {
	return s.search(ctx, s.entityCollection, userID, query, k)
}

// SearchChunksByVector runs an approximate k-NN search over the chunk
// collection scoped to userID.
func (s *Store) SearchChunksByVector(ctx context.Context, userID string, query []float32, k int) ([]store.VectorResult, error) {
	return s.search(ctx, s.chunkCollection, userID, query, k)
}

// Dimension reports the configured vector size.
func (s *Store) Dimension(context.Context) (int, error) { return s.dimension, nil }

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.client.Close() }
