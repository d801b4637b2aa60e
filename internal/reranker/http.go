package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpRequest mirrors the llama.cpp / OpenAI-compatible rerank endpoint
// shape the teacher's root rerank.go posts to: a query plus a flat list of
// candidate document strings.
type httpRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type httpResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type httpResponse struct {
	Model   string       `json:"model"`
	Results []httpResult `json:"results"`
}

// HTTPCrossEncoder calls a remote cross-encoder service over the same
// request/response shape as the teacher's reRankChunks (root rerank.go):
// POST {model, query, top_n, documents} -> {results: [{index,
// relevance_score}]}, mapped back onto the candidate order the caller
// passed in.
type HTTPCrossEncoder struct {
	Endpoint string
	Model    string
	Client   *http.Client
}

// NewHTTPCrossEncoder constructs a cross-encoder bound to a reranker
// service endpoint. A nil client defaults to http.DefaultClient.
func NewHTTPCrossEncoder(endpoint, model string, client *http.Client) *HTTPCrossEncoder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCrossEncoder{Endpoint: endpoint, Model: model, Client: client}
}

func (h *HTTPCrossEncoder) Score(ctx context.Context, query string, candidates []Candidate) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}
	payload, err := json.Marshal(httpRequest{
		Model:     h.Model,
		Query:     query,
		TopN:      len(candidates),
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reranker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker: status %d: %s", resp.StatusCode, string(body))
	}

	var decoded httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("reranker: decode response: %w", err)
	}

	scores := make([]float64, len(candidates))
	for _, r := range decoded.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}
