package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// chatStub returns a canned chat-completions response and captures the
// request body for assertions.
func chatStub(t *testing.T, content string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestLocalChat_PlainReply(t *testing.T) {
	var captured map[string]interface{}
	srv := chatStub(t, "Привет! Чем помочь?", &captured)
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "qwen3-32b", 5*time.Second)
	resp, err := p.Chat(context.Background(), ChatRequest{
		System:   "Ты ассистент.",
		Messages: []Message{{Role: "user", Content: "Привет"}},
		Options:  map[string]interface{}{OptMaxTokens: 512},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Привет! Чем помочь?" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %v", resp.ToolCalls)
	}
	if captured["max_tokens"] != float64(512) {
		t.Errorf("max_tokens not forwarded: %v", captured["max_tokens"])
	}
	msgs := captured["messages"].([]interface{})
	first := msgs[0].(map[string]interface{})
	if first["role"] != "system" {
		t.Errorf("system prompt must lead the message list, got role %v", first["role"])
	}
}

func TestLocalChat_ToolSyntaxAndThink(t *testing.T) {
	srv := chatStub(t, `<think>надо поискать</think><tool>{"name":"web_search","params":{"query":"новости"}}</tool>`, nil)
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "qwen3-32b", 5*time.Second)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "что в новостях?"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "web_search" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q", resp.FinishReason)
	}
}

func TestLocalChat_ToolRoleFoldedToUser(t *testing.T) {
	var captured map[string]interface{}
	srv := chatStub(t, "ок", &captured)
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "qwen3-32b", 5*time.Second)
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "assistant", Content: "зову инструмент"},
			{Role: "tool", Content: "результат: 42"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	msgs := captured["messages"].([]interface{})
	last := msgs[len(msgs)-1].(map[string]interface{})
	if last["role"] != "user" {
		t.Errorf("tool result must be folded into a user turn, got %v", last["role"])
	}
}

func TestPremiumChat_NativeToolCalls(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{
				"message": map[string]interface{}{
					"content": "",
					"tool_calls": []map[string]interface{}{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]interface{}{
							"name":      "yougile_create",
							"arguments": `{"title":"купить молоко"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer srv.Close()

	p := NewPremiumProvider(srv.URL, "sk-test", "gpt-4o", 5*time.Second)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "добавь задачу: купить молоко"}},
		Tools: []ToolDefinition{{
			Type: "function",
			Function: FunctionSpec{Name: "yougile_create", Description: "создать задачу"},
		}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "yougile_create" || tc.Arguments["title"] != "купить молоко" {
		t.Errorf("unexpected call: %+v", tc)
	}
	if captured["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", captured["tool_choice"])
	}
}

func TestPremiumChat_AuthErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewPremiumProvider(srv.URL, "sk-bad", "gpt-4o", 5*time.Second)
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	he, ok := err.(*HTTPError)
	if !ok || !he.IsAuth() {
		t.Fatalf("expected auth HTTPError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("auth errors must not be retried, got %d calls", calls)
	}
}

func TestRetryDo_HonorsRetryAfter(t *testing.T) {
	attempts := 0
	start := time.Now()
	_, err := RetryDo(context.Background(), RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond}, func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, &HTTPError{Status: 429, RetryAfter: 10 * time.Millisecond}
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d", attempts)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Retry-After delay was not honored")
	}
}

func TestPremiumChat_ReplayedToolHistoryFoldedToUser(t *testing.T) {
	var captured map[string]interface{}
	srv := chatStub(t, "Готово, что-нибудь ещё?", &captured)
	defer srv.Close()

	p := NewPremiumProvider(srv.URL, "sk-test", "gpt-4o", 5*time.Second)
	// History replayed from a past turn: the tool result has no call id and
	// no assistant tool_calls turn precedes it.
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "создай задачу"},
			{Role: "tool", Content: "✅ Задача создана: купить молоко (ID: a1b2c3d4)"},
			{Role: "assistant", Content: "Создал задачу."},
			{Role: "user", Content: "спасибо"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	msgs := captured["messages"].([]interface{})
	for i, raw := range msgs {
		m := raw.(map[string]interface{})
		if m["role"] == "tool" {
			t.Fatalf("message %d kept the tool role without a call id: %v", i, m)
		}
	}
	second := msgs[1].(map[string]interface{})
	if second["role"] != "user" || !strings.Contains(second["content"].(string), "Задача создана") {
		t.Errorf("replayed tool result not folded into a user turn: %v", second)
	}
	if _, ok := second["tool_call_id"]; ok {
		t.Errorf("folded turn must not carry tool_call_id: %v", second)
	}
}

func TestPremiumChat_LiveToolResultKeepsWire(t *testing.T) {
	var captured map[string]interface{}
	srv := chatStub(t, "Готово.", &captured)
	defer srv.Close()

	p := NewPremiumProvider(srv.URL, "sk-test", "gpt-4o", 5*time.Second)
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "создай задачу"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "yougile_create", Arguments: map[string]interface{}{"title": "молоко"}}}},
			{Role: "tool", Content: "✅", ToolCallID: "call_1"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	msgs := captured["messages"].([]interface{})
	last := msgs[len(msgs)-1].(map[string]interface{})
	if last["role"] != "tool" || last["tool_call_id"] != "call_1" {
		t.Errorf("in-loop tool result must keep the native wire: %v", last)
	}
}
