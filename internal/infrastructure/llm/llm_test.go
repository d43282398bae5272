package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umlgen/internal/domain/entity"
)

var renderTool = entity.ToolDefinition{
	Name:        "render_plantuml",
	Description: "Render the PlantUML code.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"uml_code": map[string]any{"type": "string"},
		},
		"required": []any{"uml_code"},
	},
}

func toolRoundTrip() *entity.ChatRequest {
	return &entity.ChatRequest{
		Messages: []entity.ChatMessage{
			entity.SystemMessage("You are a helpful AI assistant."),
			entity.UserMessage("@startuml\nclass A\n@enduml"),
			entity.AssistantMessage("", []entity.ToolCall{
				{ID: "call_1", Name: "render_plantuml", Arguments: `{"uml_code":"a"}`},
				{ID: "call_2", Name: "render_plantuml", Arguments: `{"uml_code":"b"}`},
			}),
			entity.ToolResultMessage(entity.ToolResult{CallID: "call_1", Name: "render_plantuml", Content: "out/a.png"}),
			entity.ToolResultMessage(entity.ToolResult{CallID: "call_2", Name: "render_plantuml", Content: "Error: Tool not found.", IsError: true}),
		},
		Tools: []entity.ToolDefinition{renderTool},
	}
}

func captureJSON(t *testing.T, path string, reply string, got *map[string]any, headers *http.Header) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, path, r.URL.Path)
		if headers != nil {
			*headers = r.Header.Clone()
		}
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
}

func TestOpenAIModel_Complete(t *testing.T) {
	reply := `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
		"tool_calls":[{"id":"call_9","type":"function","function":{"name":"render_plantuml","arguments":"{\"uml_code\":\"x\"}"}}]}}],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`
	var got map[string]any
	srv := captureJSON(t, "/chat/completions", reply, &got, nil)
	defer srv.Close()

	m, err := NewOpenAIModel(Config{APIKey: "k", BaseURL: srv.URL + "/", Model: "gpt-4o", MaxTokens: 100, Timeout: time.Second})
	require.NoError(t, err)

	resp, err := m.Complete(context.Background(), toolRoundTrip())
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "render_plantuml", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"uml_code":"x"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 10, resp.Usage.InputTokens)

	assert.Equal(t, "gpt-4o", got["model"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 5)
	roles := make([]string, 0, len(messages))
	for _, msg := range messages {
		roles = append(roles, msg.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "tool"}, roles)
	assert.Len(t, messages[2].(map[string]any)["tool_calls"], 2)
	assert.Equal(t, "call_2", messages[4].(map[string]any)["tool_call_id"])

	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "render_plantuml", fn["name"])
}

func TestOpenAIModel_Errors(t *testing.T) {
	_, err := NewOpenAIModel(Config{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	m, err := NewOpenAIModel(Config{APIKey: "k", BaseURL: srv.URL + "/", Timeout: time.Second})
	require.NoError(t, err)
	_, err = m.Complete(context.Background(), &entity.ChatRequest{Messages: []entity.ChatMessage{entity.UserMessage("hi")}})
	assert.Error(t, err)
}

func TestAnthropicModel_Complete(t *testing.T) {
	reply := `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"Rendering."},{"type":"tool_use","id":"tu_1","name":"render_plantuml","input":{"uml_code":"x"}}],
		"stop_reason":"tool_use","usage":{"input_tokens":3,"output_tokens":4}}`
	var got map[string]any
	var headers http.Header
	srv := captureJSON(t, "/v1/messages", reply, &got, &headers)
	defer srv.Close()

	m, err := NewAnthropicModel(Config{APIKey: "k", BaseURL: srv.URL + "/", Model: "claude-test", MaxTokens: 256, Timeout: time.Second})
	require.NoError(t, err)

	resp, err := m.Complete(context.Background(), toolRoundTrip())
	require.NoError(t, err)
	assert.Equal(t, "Rendering.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"uml_code":"x"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 4, resp.Usage.OutputTokens)

	assert.Equal(t, "k", headers.Get("X-Api-Key"))
	assert.EqualValues(t, 256, got["max_tokens"])

	system := got["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "You are a helpful AI assistant.", system[0].(map[string]any)["text"])

	// user, assistant(tool_use x2), user(tool_result x2)
	messages := got["messages"].([]any)
	require.Len(t, messages, 3)
	results := messages[2].(map[string]any)["content"].([]any)
	require.Len(t, results, 2)
	second := results[1].(map[string]any)
	assert.Equal(t, "tool_result", second["type"])
	assert.Equal(t, "call_2", second["tool_use_id"])
	assert.Equal(t, true, second["is_error"])

	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"uml_code"}, schema["required"])
}

func TestAnthropicModel_EmptyToolResult(t *testing.T) {
	reply := `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"No diagram found."}],
		"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`
	var got map[string]any
	srv := captureJSON(t, "/v1/messages", reply, &got, nil)
	defer srv.Close()

	m, err := NewAnthropicModel(Config{APIKey: "k", BaseURL: srv.URL + "/", Model: "claude-test", MaxTokens: 256, Timeout: time.Second})
	require.NoError(t, err)

	req := &entity.ChatRequest{
		Messages: []entity.ChatMessage{
			entity.UserMessage("no uml here"),
			entity.AssistantMessage("", []entity.ToolCall{
				{ID: "call_1", Name: "render_plantuml", Arguments: `{"uml_code":"no uml here"}`},
			}),
			entity.ToolResultMessage(entity.ToolResult{CallID: "call_1", Name: "render_plantuml"}),
		},
		Tools: []entity.ToolDefinition{renderTool},
	}
	resp, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "No diagram found.", resp.Content)

	messages := got["messages"].([]any)
	require.Len(t, messages, 3)
	results := messages[2].(map[string]any)["content"].([]any)
	require.Len(t, results, 1)
	result := results[0].(map[string]any)
	assert.Equal(t, "call_1", result["tool_use_id"])
	content := result["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, emptyToolResult, content[0].(map[string]any)["text"])
}

func TestAmveraModel_Complete(t *testing.T) {
	reply := `{"model":"gpt-4.1","choices":[{"message":{"content":"  @startuml\nclass A\n@enduml  "}}],
		"usage":{"prompt_tokens":7,"completion_tokens":9}}`
	var got map[string]any
	var headers http.Header
	srv := captureJSON(t, "/gpt", reply, &got, &headers)
	defer srv.Close()

	m, err := NewAmveraModel(Config{APIKey: "secret", BaseURL: srv.URL + "/gpt", Timeout: time.Second})
	require.NoError(t, err)

	resp, err := m.Complete(context.Background(), toolRoundTrip())
	require.NoError(t, err)
	assert.Equal(t, "@startuml\nclass A\n@enduml", resp.Content)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, 7, resp.Usage.InputTokens)

	assert.Equal(t, "Bearer secret", headers.Get("X-Auth-Token"))
	messages := got["messages"].([]any)
	require.Len(t, messages, 5)
	assert.Equal(t, "call_1", messages[3].(map[string]any)["tool_call_id"])
	assert.Len(t, got["tools"], 1)
}

func TestAmveraModel_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m, err := NewAmveraModel(Config{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = m.Complete(context.Background(), &entity.ChatRequest{Messages: []entity.ChatMessage{entity.UserMessage("hi")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{provider: "", want: "openai/" + defaultOpenAIModel},
		{provider: "openai", want: "openai/" + defaultOpenAIModel},
		{provider: "Anthropic", want: "anthropic/" + defaultAnthropicModel},
		{provider: "amvera", want: "amvera/gpt-4.1"},
		{provider: "gemini", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			m, err := New(Config{Provider: tt.provider, APIKey: "k"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Name())
		})
	}
}
