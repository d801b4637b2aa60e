// Package providers builds a knowledgecore/internal/llm.Client from config,
// grounded on the teacher's internal/llm/providers factory's
// switch-on-provider-name shape.
package providers

import (
	"fmt"
	"net/http"

	"knowledgecore/internal/config"
	"knowledgecore/internal/llm"
	"knowledgecore/internal/llm/anthropic"
	"knowledgecore/internal/llm/openai"
)

// Build constructs an llm.Client based on cfg.Provider.
func Build(cfg config.LLMConfig, httpClient *http.Client) (llm.Client, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		}, httpClient), nil
	case "openai":
		return openai.New(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		}, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
