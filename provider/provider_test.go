package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"anthropic", "OpenAI"} {
		p, err := New(name, Config{APIKey: "k"})
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if p.Name() != strings.ToLower(name) {
			t.Errorf("Name() = %q, want %q", p.Name(), strings.ToLower(name))
		}
	}
	if _, err := New("copilot", Config{}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("New(copilot) err = %v, want ErrUnknownProvider", err)
	}
}

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Authorization=Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("messages = %+v, want system then user", req.Messages)
		}

		resp := `{"id":"chatcmpl-123","choices":[{"message":{"role":"assistant","content":"Cleaner"},"finish_reason":"stop"}],"usage":{"prompt_tokens":15,"completion_tokens":2}}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL + "/"})
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are helpful."},
		{Role: RoleUser, Content: "Who?"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Cleaner" {
		t.Errorf("Content = %q, want Cleaner", resp.Content)
	}
	if resp.Usage.InputTokens != 15 || resp.Usage.OutputTokens != 2 {
		t.Errorf("Usage = %+v, want 15/2", resp.Usage)
	}
}

func TestOpenAIChat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "bad", BaseURL: server.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Chat err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "bad key" || apiErr.Type != "auth" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Error() = %q, want status 401", err.Error())
	}
}

func TestAnthropicChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("expected x-api-key=test-key, got %s", r.Header.Get("X-Api-Key"))
		}

		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			System    []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "claude-test" {
			t.Errorf("model = %s, want claude-test", req.Model)
		}
		if req.MaxTokens != 64 {
			t.Errorf("max_tokens = %d, want 64", req.MaxTokens)
		}
		if len(req.System) != 1 || req.System[0].Text != "You are helpful." {
			t.Errorf("system = %+v, want one block", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v, want one user turn", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Hello! "}, {"type": "text", "text": "How can I help?"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 15, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{
		APIKey:    "test-key",
		Model:     "claude-test",
		MaxTokens: 64,
		BaseURL:   server.URL,
	})
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are helpful."},
		{Role: RoleUser, Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hello! How can I help?" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 15 || resp.Usage.OutputTokens != 8 {
		t.Errorf("Usage = %+v, want 15/8", resp.Usage)
	}
}
