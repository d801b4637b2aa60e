// Package ingestion implements spec.md §4.2: the Ready -> ContentPrepared ->
// Retrieved -> Enriched -> Persisted state machine that turns one
// IngestionTask's payload into KnowledgeEntities, TextChunks, and their
// embeddings. Grounded on the teacher's internal/rag/ingest package for the
// stage-function shape (api.go's pipeline steps, idempotency.go's
// deterministic-id idiom), generalized from the teacher's generic Doc/Chunk
// model onto spec.md's domain types.
package ingestion

import (
	"github.com/google/uuid"
)

// idNamespace anchors every deterministic id derived from a task, so retries
// of the same task overwrite the same rows instead of duplicating them
// (spec.md §4.2 "must therefore be idempotent on retry").
var idNamespace = uuid.MustParse("6f2b9a34-7c2e-4e3d-9f1a-2b6d7c9e1a40")

// deterministicID derives a stable uuid from a task id and a stage-local
// discriminator.
func deterministicID(taskID, discriminator string) string {
	return uuid.NewSHA1(idNamespace, []byte(taskID+":"+discriminator)).String()
}

// resolveEntityKey implements the §9 entity-key disambiguation rule: if key
// parses as a UUID, it names an existing entity to reuse verbatim; otherwise
// it is a prompt-local tag and gets a fresh id deterministic on (task, tag).
func resolveEntityKey(taskID, key string) string {
	if _, err := uuid.Parse(key); err == nil {
		return key
	}
	return deterministicID(taskID, "entity:"+key)
}
