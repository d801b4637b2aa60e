package ingestion

import (
	"context"
	"encoding/json"
	"strings"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/llm"
	"knowledgecore/internal/retrieval"
)

// ProposedEntity is one LLM-proposed knowledge entity, keyed by a
// prompt-local tag or an existing entity id (spec.md §4.2 stage 3, §9).
type ProposedEntity struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EntityType  string `json:"entity_type"`
}

// ProposedRelationship is one LLM-proposed edge, referencing its endpoints
// by the same keys used in ProposedEntity.
type ProposedRelationship struct {
	Type      string `json:"type"`
	SourceKey string `json:"source_key"`
	TargetKey string `json:"target_key"`
}

// EnrichmentResult is the Enrich stage's parsed, still-unresolved output.
// Persist resolves each Key through resolveEntityKey before writing anything.
type EnrichmentResult struct {
	Entities      []ProposedEntity
	Relationships []ProposedRelationship
}

var enrichmentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"knowledge_entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":         map[string]any{"type": "string"},
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"entity_type": map[string]any{
						"type": "string",
						"enum": []string{"Idea", "Project", "Document", "Page", "TextSnippet"},
					},
				},
				"required": []string{"key", "name", "description", "entity_type"},
			},
		},
		"relationships": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":       map[string]any{"type": "string"},
					"source_key": map[string]any{"type": "string"},
					"target_key": map[string]any{"type": "string"},
				},
				"required": []string{"type", "source_key", "target_key"},
			},
		},
	},
	"required": []string{"knowledge_entities", "relationships"},
}

const enrichSystemPrompt = `You extract structured knowledge from a single piece of text.

Return knowledge_entities: each idea, project, document, page, or text
snippet worth remembering on its own. For each one pick the most specific
entity_type and write a name and a one- or two-sentence description.

Return relationships: edges between entities you just proposed, or between
a proposed entity and one of the SIMILAR_EXISTING_ENTITIES, when the text
states or clearly implies a connection. Do not invent relationships that
are not supported by the text.

Every entity you propose needs a "key". If an entity is genuinely the same
thing as one of SIMILAR_EXISTING_ENTITIES, reuse that entity's "id" verbatim
as the key instead of inventing a new one. Otherwise make up a short
lowercase tag unique within this response (e.g. "project_x"). Relationships
reference entities by these same keys, whether newly proposed or reused.`

// Enrich implements spec.md §4.2 stage 3: it sends the prepared text plus
// the Retrieve-Similar stage's candidates to the LLM and parses its strict
// JSON response. similar lets the model reuse an existing entity id instead
// of proposing a duplicate.
func Enrich(ctx context.Context, client llm.Client, model string, tc domain.TextContent, similar []retrieval.RetrievedEntity) (EnrichmentResult, error) {
	similarJSON, err := json.Marshal(similarEntitiesForPrompt(similar))
	if err != nil {
		return EnrichmentResult{}, apperr.Wrap(apperr.KindInternal, "marshalling similar entities failed", err)
	}

	var user strings.Builder
	user.WriteString("TEXT:\n")
	user.WriteString(tc.Text)
	user.WriteString("\n\nCATEGORY: ")
	user.WriteString(tc.Category)
	user.WriteString("\nCONTEXT: ")
	user.WriteString(tc.Context)
	user.WriteString("\n\nSIMILAR_EXISTING_ENTITIES:\n")
	user.Write(similarJSON)

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: enrichSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Schema:     enrichmentSchema,
		SchemaName: "knowledge_extraction",
	})
	if err != nil {
		return EnrichmentResult{}, apperr.Wrap(apperr.KindProcessing, "enrichment completion failed", err)
	}

	var parsed struct {
		KnowledgeEntities []ProposedEntity       `json:"knowledge_entities"`
		Relationships     []ProposedRelationship `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return EnrichmentResult{}, apperr.Wrap(apperr.KindLLMParsing, "enrichment response was not valid JSON", err)
	}
	if len(parsed.KnowledgeEntities) == 0 {
		return EnrichmentResult{}, apperr.New(apperr.KindLLMParsing, "enrichment produced no knowledge entities")
	}

	return EnrichmentResult{Entities: parsed.KnowledgeEntities, Relationships: parsed.Relationships}, nil
}

type similarEntityView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func similarEntitiesForPrompt(similar []retrieval.RetrievedEntity) []similarEntityView {
	out := make([]similarEntityView, len(similar))
	for i, e := range similar {
		out[i] = similarEntityView{ID: e.Entity.ID, Name: e.Entity.Name, Description: e.Entity.Description, Type: string(e.Entity.Type)}
	}
	return out
}
