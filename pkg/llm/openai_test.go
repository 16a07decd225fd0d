package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

func completion(message map[string]any, finish string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1677652288,
		"model":   "gpt-4o",
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": finish},
		},
	}
}

func TestOpenAIChat_TextResponse(t *testing.T) {
	server, body := captureServer(t, http.StatusOK, completion(map[string]any{"role": "assistant", "content": "Hello! How can I help you?"}, "stop"))

	p := NewOpenAIProvider("test-key", server.URL, "gpt-4o", "chat")
	if p.Model() != "gpt-4o" || p.Family() != schema.Generic {
		t.Fatalf("unexpected provider identity %q/%q", p.Model(), p.Family())
	}
	resp, err := p.Chat(context.Background(), []types.Message{
		{Role: "system", Content: "Be terse"},
		{Role: "user", Content: "Hello"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello! How can I help you?" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish_reason 'stop', got %q", resp.FinishReason)
	}
	sent := (*body)["messages"].([]any)
	if len(sent) != 2 || sent[0].(map[string]any)["role"] != "system" {
		t.Errorf("unexpected messages: %v", sent)
	}
}

func TestOpenAIChat_ToolCalls(t *testing.T) {
	server, body := captureServer(t, http.StatusOK, completion(map[string]any{
		"role":    "assistant",
		"content": "",
		"tool_calls": []map[string]any{
			{"id": "call_1", "type": "function", "function": map[string]any{"name": "test", "arguments": `{"function_name": "test1"}`}},
			{"id": "call_2", "type": "function", "function": map[string]any{"name": "test", "arguments": `{not json`}},
		},
	}, "tool_calls"))

	p := NewOpenAIProvider("test-key", server.URL, "gpt-4o", "chat")
	resp, err := p.Chat(context.Background(), []types.Message{{Role: "user", Content: "run"}}, testDescriptors(schema.Generic))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(resp.Calls))
	}
	if resp.Calls[0].ID != "call_1" || resp.Calls[0].Arguments["function_name"] != "test1" {
		t.Errorf("unexpected first call: %+v", resp.Calls[0])
	}
	if resp.Calls[1].Arguments == nil || len(resp.Calls[1].Arguments) != 0 {
		t.Errorf("malformed arguments should decode to an empty map, got %v", resp.Calls[1].Arguments)
	}

	tools := (*body)["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "test" {
		t.Errorf("unexpected tool: %v", fn)
	}
	params := fn["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Errorf("unexpected parameters: %v", params)
	}
	if req := params["required"].([]any); len(req) != 1 || req[0] != "function_name" {
		t.Errorf("unexpected required: %v", req)
	}
}

func TestOpenAIChat_ToolMessages(t *testing.T) {
	server, body := captureServer(t, http.StatusOK, completion(map[string]any{"role": "assistant", "content": "ok"}, "stop"))

	messages := []types.Message{
		{Role: "user", Content: "go"},
		{Role: "assistant", Calls: []types.CallRequest{
			{ID: "call_1", Name: "test", Arguments: map[string]any{"function_name": "test3"}},
			{ID: "call_2", Name: "bash"},
		}},
		{Role: "tool", Outcome: &types.TurnOutcome{Results: []types.CallOutcome{
			{ID: "call_1", Name: "test", Result: types.NewToolResult("goodbye")},
			{ID: "call_2", Name: "bash", Result: types.PartialResult("partial", "exit status 1")},
		}}},
	}

	p := NewOpenAIProvider("test-key", server.URL, "gpt-4o", "chat")
	if _, err := p.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := (*body)["messages"].([]any)
	if len(sent) != 4 {
		t.Fatalf("expected user, assistant and two tool messages, got %d", len(sent))
	}
	calls := sent[1].(map[string]any)["tool_calls"].([]any)
	call2 := calls[1].(map[string]any)["function"].(map[string]any)
	if call2["arguments"] != "{}" {
		t.Errorf("empty arguments should be sent as {}, got %v", call2["arguments"])
	}
	first := sent[2].(map[string]any)
	if first["role"] != "tool" || first["tool_call_id"] != "call_1" || first["content"] != "goodbye" {
		t.Errorf("unexpected tool message: %v", first)
	}
	second := sent[3].(map[string]any)
	if second["tool_call_id"] != "call_2" || second["content"] != "partial\nError: exit status 1" {
		t.Errorf("unexpected tool message: %v", second)
	}
}

func TestOpenAIChat_EmptyChoices(t *testing.T) {
	server, _ := captureServer(t, http.StatusOK, map[string]any{
		"id": "chatcmpl-empty", "object": "chat.completion", "created": 1677652288, "model": "gpt-4o",
		"choices": []map[string]any{},
	})
	p := NewOpenAIProvider("test-key", server.URL, "gpt-4o", "chat")
	if _, err := p.Chat(context.Background(), []types.Message{{Role: "user", Content: "Hello"}}, nil); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAIChat_Error(t *testing.T) {
	server, _ := captureServer(t, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "Invalid API key"}})
	p := NewOpenAIProvider("invalid-key", server.URL, "gpt-4o", "chat")
	_, err := p.Chat(context.Background(), []types.Message{{Role: "user", Content: "Hello"}}, nil)
	if err == nil {
		t.Fatal("expected error for invalid API key")
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("expected status in error, got: %v", err)
	}
}

func TestOpenAIRetryOn429(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callCount.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "rate limited"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion(map[string]any{"role": "assistant", "content": "Success after retries!"}, "stop"))
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "gpt-4o", "chat")
	resp, err := p.Chat(context.Background(), []types.Message{{Role: "user", Content: "Hello"}}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	if resp.Content != "Success after retries!" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if callCount.Load() < 3 {
		t.Errorf("expected at least 3 calls (2 retries + 1 success), got %d", callCount.Load())
	}
}

func TestResponsesAPI(t *testing.T) {
	server, body := captureServer(t, http.StatusOK, map[string]any{
		"id":     "resp-001",
		"object": "response",
		"output": []map[string]any{
			{
				"type": "message",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "output_text", "text": "Calling a tool."},
				},
			},
			{"type": "function_call", "call_id": "call_resp_1", "name": "test", "arguments": `{"function_name":"test2"}`},
		},
	})

	p := NewOpenAIProvider("test-key", server.URL+"/v1", "gpt-4o", "responses")
	resp, err := p.Chat(context.Background(), []types.Message{
		{Role: "system", Content: "You are helpful"},
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Calls: []types.CallRequest{{ID: "call_0", Name: "test", Arguments: map[string]any{"function_name": "test1"}}}},
		{Role: "tool", Outcome: &types.TurnOutcome{Results: []types.CallOutcome{{ID: "call_0", Name: "test", Result: types.NewToolResult("hello world")}}}},
	}, testDescriptors(schema.Generic))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Calling a tool." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("expected finish_reason 'tool_calls', got %q", resp.FinishReason)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].ID != "call_resp_1" || resp.Calls[0].Arguments["function_name"] != "test2" {
		t.Errorf("unexpected calls: %+v", resp.Calls)
	}

	if (*body)["instructions"] != "You are helpful" {
		t.Errorf("expected system prompt as instructions, got %v", (*body)["instructions"])
	}
	input := (*body)["input"].([]any)
	if len(input) != 3 {
		t.Fatalf("expected user message, function call and output, got %d items", len(input))
	}
	output := input[2].(map[string]any)
	if output["type"] != "function_call_output" || output["call_id"] != "call_0" || output["output"] != "hello world" {
		t.Errorf("unexpected function output item: %v", output)
	}
}

func TestWrapAPIError(t *testing.T) {
	err := wrapAPIError("test context", context.DeadlineExceeded)
	if !strings.Contains(err.Error(), "test context") {
		t.Errorf("expected context in error, got: %v", err)
	}
	if strings.Contains(err.Error(), "HTTP") {
		t.Errorf("non-API error should not contain HTTP status, got: %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(&config.Config{Provider: config.ProviderOpenAI}); err == nil {
		t.Error("expected missing key error")
	}

	p, err := New(&config.Config{Provider: config.ProviderAnthropic, APIKey: "k", Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("expected AnthropicProvider, got %T", p)
	}

	p, err = New(&config.Config{Provider: config.ProviderOpenAI, APIKey: "k", Model: "gpt-4o", APIType: "chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Family() != schema.Generic {
		t.Errorf("expected generic family, got %q", p.Family())
	}
}
