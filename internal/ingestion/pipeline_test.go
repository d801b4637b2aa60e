package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
)

func TestPipeline_Run_TextPayload_EndToEnd(t *testing.T) {
	st := &fakePersistStore{}
	client := &fakeLLM{content: `{
		"knowledge_entities": [{"key":"idea_1","name":"Idea","description":"d","entity_type":"Idea"}],
		"relationships": []
	}`}

	pipe := New(Deps{
		LLM:      client,
		LLMModel: "gpt-x",
		Persist:  PersistDeps{Store: st, Embedder: fakePersistEmbedder{}},
	})

	task := domain.IngestionTask{
		ID:     "task-1",
		UserID: "u1",
		Payload: domain.IngestionPayload{
			Kind:   domain.PayloadText,
			UserID: "u1",
			Text:   "  A reasonably long piece of text to ingest for this test.  ",
		},
	}

	result, err := pipe.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Len(t, result.EntityIDs, 1)
	require.NotNil(t, st.storedText)
	assert.Equal(t, "A reasonably long piece of text to ingest for this test.", st.storedText.Text)
}

func TestPipeline_Run_PrepareFailure_AbortsBeforeEnrich(t *testing.T) {
	st := &fakePersistStore{}
	client := &fakeLLM{}

	pipe := New(Deps{
		LLM:      client,
		LLMModel: "gpt-x",
		Persist:  PersistDeps{Store: st, Embedder: fakePersistEmbedder{}},
	})

	task := domain.IngestionTask{
		ID:     "task-2",
		UserID: "u1",
		Payload: domain.IngestionPayload{
			Kind:   domain.PayloadText,
			UserID: "u1",
			Text:   "   ",
		},
	}

	_, err := pipe.Run(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, client.gotReq.Messages, "the LLM must never be called once Prepare fails")
	assert.Nil(t, st.storedText)
}
