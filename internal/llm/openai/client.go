// Package openai adapts knowledgecore/internal/llm.Client onto the OpenAI
// Chat Completions API, grounded on the teacher's internal/llm/openai
// client. JSON output is obtained via a single function tool whose
// parameters are the caller's schema, mirroring the internal/llm/anthropic
// adapter's approach; tool_choice is not set, the model is asked to call the
// function by an appended user message.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"knowledgecore/internal/llm"
)

// Config holds the OpenAI-specific connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	sdk   sdk.Client
	model string
}

func New(cfg Config, httpClient *http.Client) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

const respondToolName = "respond"

// Complete offers a single function tool whose parameters schema is
// req.Schema, asks the model to call it, then returns the call's arguments
// as the response content; a reply without that call is an error.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	name := req.SchemaName
	if name == "" {
		name = respondToolName
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	msgs := adaptMessages(req.Messages)
	msgs = append(msgs, sdk.UserMessage(fmt.Sprintf("Respond only by calling the %s function with your answer.", name)))

	def := sdk.FunctionDefinitionParam{
		Name:        name,
		Description: sdk.String("Provide the structured answer."),
		Parameters:  req.Schema,
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: msgs,
		Tools:    []sdk.ChatCompletionToolUnionParam{sdk.ChatCompletionFunctionTool(def)},
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("openai_complete_error")
		return llm.CompletionResponse{}, fmt.Errorf("openai complete: %w", err)
	}
	if len(comp.Choices) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("openai complete: no choices returned")
	}

	msg := comp.Choices[0].Message
	for _, tc := range msg.ToolCalls {
		if fn, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok && fn.Function.Name == name {
			return llm.CompletionResponse{
				Content:          fn.Function.Arguments,
				PromptTokens:     int(comp.Usage.PromptTokens),
				CompletionTokens: int(comp.Usage.CompletionTokens),
			}, nil
		}
	}
	return llm.CompletionResponse{}, fmt.Errorf("openai complete: model did not call %s", name)
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
