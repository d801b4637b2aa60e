package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/llm"
	"knowledgecore/internal/retrieval"
)

type fakeLLM struct {
	content string
	err     error
	gotReq  llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return llm.CompletionResponse{}, f.err
	}
	return llm.CompletionResponse{Content: f.content}, nil
}

func TestEnrich_ParsesWellFormedResponse(t *testing.T) {
	client := &fakeLLM{content: `{
		"knowledge_entities": [{"key":"idea_1","name":"Widget Idea","description":"A thing.","entity_type":"Idea"}],
		"relationships": [{"type":"relates_to","source_key":"idea_1","target_key":"existing-id-1"}]
	}`}

	tc := domain.TextContent{Text: "some text", Category: "notes", Context: "ctx"}
	similar := []retrieval.RetrievedEntity{{Entity: domain.KnowledgeEntity{ID: "existing-id-1", Name: "Old Widget"}}}

	out, err := Enrich(context.Background(), client, "gpt-x", tc, similar)
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "idea_1", out.Entities[0].Key)
	require.Len(t, out.Relationships, 1)
	assert.Equal(t, "existing-id-1", out.Relationships[0].TargetKey)

	assert.Contains(t, client.gotReq.Messages[1].Content, "some text")
	assert.Contains(t, client.gotReq.Messages[1].Content, "existing-id-1")
}

func TestEnrich_MalformedJSON_ReportsLLMParsingKind(t *testing.T) {
	client := &fakeLLM{content: "not json"}
	_, err := Enrich(context.Background(), client, "gpt-x", domain.TextContent{Text: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindLLMParsing, apperr.KindOf(err))
}

func TestEnrich_NoEntities_ReportsLLMParsingKind(t *testing.T) {
	client := &fakeLLM{content: `{"knowledge_entities":[],"relationships":[]}`}
	_, err := Enrich(context.Background(), client, "gpt-x", domain.TextContent{Text: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindLLMParsing, apperr.KindOf(err))
}

func TestEnrich_CompletionError_WrapsAsProcessing(t *testing.T) {
	client := &fakeLLM{err: assert.AnError}
	_, err := Enrich(context.Background(), client, "gpt-x", domain.TextContent{Text: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindProcessing, apperr.KindOf(err))
}
