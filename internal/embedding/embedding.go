// Package embedding implements the Embedding Provider external interface
// (spec.md §6): a pluggable `embed`/`embed_batch` contract with a remote HTTP
// backend and the mandated deterministic hash-based fallback. Ported from
// the teacher's internal/rag/embedder/embedder.go (Embedder/clientEmbedder/
// deterministicEmbedder), renamed to this module's domain and generalized to
// carry a configurable dimension rather than a fixed constant.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Provider returns fixed-dimension vectors for strings.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// --- remote HTTP backend ---

type clientProvider struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	dimension  int
}

// NewClient constructs a Provider backed by a remote embedding service.
func NewClient(endpoint, apiKey, model string, dimension int, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &clientProvider{httpClient: httpClient, endpoint: endpoint, apiKey: apiKey, model: model, dimension: dimension}
}

func (c *clientProvider) Dimension() int { return c.dimension }

func (c *clientProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding service returned no vectors")
	}
	return vecs[0], nil
}

func (c *clientProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(map[string]any{"model": c.model, "input": texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.rateLimitedCall(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// rateLimitedCall is a seam for future client-side throttling; today it is a
// direct passthrough, matching the teacher's clientEmbedder.
func (c *clientProvider) rateLimitedCall(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// --- deterministic hash-based fallback ---

type deterministicProvider struct {
	dimension int
}

// NewDeterministic constructs the dependency-free fallback Provider required
// by spec.md §6: tokenize on non-alphanumerics, bucket each token into a
// D-dimensional histogram via FNV hashing, then L2-normalize.
func NewDeterministic(dimension int) Provider {
	if dimension <= 0 {
		dimension = 256
	}
	return &deterministicProvider{dimension: dimension}
}

func (d *deterministicProvider) Dimension() int { return d.dimension }

func (d *deterministicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return d.embedOne(text), nil
}

func (d *deterministicProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

var tokenSplitRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func (d *deterministicProvider) embedOne(text string) []float32 {
	vec := make([]float64, d.dimension)
	tokens := tokenSplitRe.Split(strings.ToLower(text), -1)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		bucket := h.Sum64() % uint64(d.dimension)
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, d.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
