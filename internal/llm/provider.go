// Package llm defines the narrow LLM service contract (spec.md §6) the
// Enrich stage of the Ingestion Pipeline is built against: a single
// chat-with-strict-JSON-schema call. Adapted from the teacher's
// internal/llm.Provider, stripped of the agentic tool-calling, streaming,
// and provider-specific (Gemini thought-signature, prompt-compaction)
// surface this spec's Enrich stage never exercises.
package llm

import "context"

// Message is one turn of chat history.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// CompletionRequest asks a Client for a single strict-JSON-schema response.
type CompletionRequest struct {
	Model      string
	Messages   []Message
	Schema     map[string]any // JSON schema the response content must satisfy
	SchemaName string
}

// CompletionResponse carries the raw JSON text the model produced; callers
// unmarshal it against the schema they supplied.
type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client is the LLM service boundary: a single chat(request) -> response
// call with strict JSON-schema output, per spec.md §6.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
