package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"umlgen/internal/domain/entity"
	"umlgen/internal/domain/repository"
	"umlgen/internal/infrastructure/metrics"
)

const defaultAmveraURL = "https://kong-proxy.yc.amvera.ru/api/v1/models/gpt"

// AmveraModel posts OpenAI-shaped chat payloads to the Amvera LLM gateway,
// which authenticates with X-Auth-Token instead of Authorization.
type AmveraModel struct {
	apiKey    string
	baseURL   string
	model     string
	client    *http.Client
	maxTokens int
}

var _ repository.ChatModel = (*AmveraModel)(nil)

func NewAmveraModel(cfg Config) (*AmveraModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("amvera: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAmveraURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	return &AmveraModel{
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		client:    &http.Client{Timeout: cfg.Timeout},
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (g *AmveraModel) Name() string {
	return ProviderAmvera + "/" + g.model
}

func (g *AmveraModel) Complete(ctx context.Context, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	metrics.IncLLMRequest(ProviderAmvera, model)

	request := map[string]interface{}{
		"model":    model,
		"messages": amveraMessages(req.Messages),
	}
	if g.maxTokens > 0 {
		request["max_tokens"] = g.maxTokens
	}
	if len(req.Tools) > 0 {
		request["tools"] = amveraTools(req.Tools)
	}

	response, err := g.makeRequest(ctx, request)
	if err != nil {
		metrics.IncError("llm", "make_request")
		return nil, fmt.Errorf("failed to make Amvera request: %w", err)
	}

	resp, err := g.parseResponse(response)
	if err != nil {
		metrics.IncError("llm", "parse_response")
		return nil, fmt.Errorf("failed to parse Amvera response: %w", err)
	}
	return resp, nil
}

func (g *AmveraModel) makeRequest(ctx context.Context, request map[string]interface{}) (*amveraResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		metrics.IncError("llm", "marshal_request")
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		metrics.IncError("llm", "create_request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncError("llm", "http_do")
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		err := resp.Body.Close()
		if err != nil {
			log.Printf("close body err: %s", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		metrics.IncError("llm", fmt.Sprintf("api_error_%d", resp.StatusCode))
		return nil, fmt.Errorf("amvera api error: %d - %s", resp.StatusCode, string(body))
	}

	var response amveraResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		metrics.IncError("llm", "decode_response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

type amveraToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type amveraResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string          `json:"content"`
			ToolCalls []amveraToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (g *AmveraModel) parseResponse(response *amveraResponse) (*entity.ChatResponse, error) {
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("invalid response format: no choices")
	}

	message := response.Choices[0].Message
	if message.Content == nil && len(message.ToolCalls) == 0 {
		return nil, fmt.Errorf("invalid response format: no content")
	}

	out := &entity.ChatResponse{
		Model: response.Model,
		Usage: entity.Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
	}
	if message.Content != nil {
		out.Content = strings.TrimSpace(*message.Content)
	}
	for _, tc := range message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, entity.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func amveraMessages(messages []entity.ChatMessage) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		m := map[string]interface{}{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]string{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			m["tool_calls"] = calls
		}
		if msg.Role == entity.RoleTool {
			m["tool_call_id"] = msg.ToolCallID
		}
		out = append(out, m)
	}
	return out
}

func amveraTools(tools []entity.ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}
