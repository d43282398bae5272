package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	emptyToolResult       = "(no output)"
)

// AnthropicModel talks to the Messages API. System turns are lifted into the
// request's system field.
type AnthropicModel struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

var _ repository.ChatModel = (*AnthropicModel)(nil)

func NewAnthropicModel(cfg Config) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicModel{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (m *AnthropicModel) Name() string {
	return ProviderAnthropic + "/" + m.model
}

func (m *AnthropicModel) Complete(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	params := m.buildParams(req)
	metrics.IncLLMRequest(ProviderAnthropic, string(params.Model))

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		metrics.IncError("llm", "anthropic_request")
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	resp := &entity.ChatResponse{
		Model: string(msg.Model),
		Usage: entity.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			args, _ := b.Input.MarshalJSON()
			resp.ToolCalls = append(resp.ToolCalls, entity.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(args),
			})
		}
	}
	return resp, nil
}

func (m *AnthropicModel) buildParams(req *entity.ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = m.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	var system []string
	toolResultTurn := -1
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case entity.RoleSystem:
			system = append(system, msg.Content)
		case entity.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case entity.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(args),
					},
				})
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case entity.RoleTool:
			content := msg.Content
			if content == "" {
				// the API rejects empty text blocks
				content = emptyToolResult
			}
			block := anthropic.NewToolResultBlock(msg.ToolCallID, content, msg.IsError)
			// results of one assistant turn share a single user message
			if n := len(messages); n > 0 && toolResultTurn == n-1 {
				messages[n-1].Content = append(messages[n-1].Content, block)
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(block))
			toolResultTurn = len(messages) - 1
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: tool.Parameters["properties"],
					Required:   requiredFields(tool.Parameters),
				},
			},
		})
	}
	return params
}

func requiredFields(params map[string]any) []string {
	switch req := params["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
