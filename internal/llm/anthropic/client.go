// Package anthropic adapts knowledgecore/internal/llm.Client onto the
// Anthropic Messages API, grounded on the teacher's internal/llm/anthropic
// client. Structured JSON output is obtained through a single tool whose
// input_schema is the caller's JSON schema, rather than a native
// "response_format" field. tool_choice is not set: the model is asked to
// call the tool by an appended user message, and a reply without that tool
// call is returned as an error.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/rs/zerolog/log"

	"knowledgecore/internal/llm"
)

const defaultMaxTokens int64 = 4096

// Config holds the Anthropic-specific connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

// respondToolName is the tool name used when req.SchemaName is empty.
const respondToolName = "respond"

// Complete sends req.Messages plus an instruction to call the tool named
// req.SchemaName (or respondToolName), whose input_schema is req.Schema, and
// returns that tool call's arguments as the response content.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	sys, history := adaptMessages(req.Messages)

	schemaParam := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
	if props, ok := req.Schema["properties"]; ok {
		schemaParam.Properties = props
	}
	if reqd, ok := req.Schema["required"]; ok {
		if list, ok := reqd.([]string); ok {
			schemaParam.Required = list
		} else if items, ok := reqd.([]any); ok {
			for _, it := range items {
				if s, ok := it.(string); ok {
					schemaParam.Required = append(schemaParam.Required, s)
				}
			}
		}
	}

	name := req.SchemaName
	if name == "" {
		name = respondToolName
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(
		fmt.Sprintf("Respond only by calling the %s tool with your answer.", name))))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  history,
		MaxTokens: c.maxTokens,
		Tools: []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
			Name:        name,
			InputSchema: schemaParam,
		}}},
	}
	if len(sys) > 0 {
		params.System = sys
	}

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("anthropic_complete_error")
		return llm.CompletionResponse{}, fmt.Errorf("anthropic complete: %w", err)
	}

	for _, block := range resp.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok && tu.Name == name {
			args := tu.Input
			if len(args) == 0 {
				args = []byte("{}")
			}
			return llm.CompletionResponse{
				Content:          string(args),
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
			}, nil
		}
	}
	return llm.CompletionResponse{}, fmt.Errorf("anthropic complete: model did not call %s", name)
}

func adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var sys []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			if m.Content != "" {
				sys = append(sys, anthropic.TextBlockParam{Text: m.Content})
			}
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return sys, out
}
