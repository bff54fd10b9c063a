package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com"
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIMaxTokens = 1024

	// maxOpenAIResponse caps how much of a response body is read.
	maxOpenAIResponse = 4 << 20
)

// APIError is a non-2xx reply from an HTTP provider.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// OpenAIProvider implements Provider on the Chat Completions endpoint of
// OpenAI or any compatible server. Requests use temperature 0 so a roster
// question gets a stable answer.
type OpenAIProvider struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOpenAIProvider creates an OpenAI provider. BaseURL is the server root,
// without the /v1 suffix.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	p := &OpenAIProvider{
		endpoint:  defaultOpenAIBaseURL,
		apiKey:    cfg.APIKey,
		model:     defaultOpenAIModel,
		maxTokens: defaultOpenAIMaxTokens,
		client:    http.DefaultClient,
	}
	if cfg.BaseURL != "" {
		p.endpoint = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	p.endpoint += "/v1/chat/completions"
	if cfg.Model != "" {
		p.model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		p.maxTokens = cfg.MaxTokens
	}
	if cfg.HTTPClient != nil {
		p.client = cfg.HTTPClient
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []chatTurn `json:"messages"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float64    `json:"temperature"`
}

type chatReply struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      chatTurn `json:"message"`
		FinishReason string   `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *chatError `json:"error,omitempty"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	body := chatRequest{Model: p.model, MaxTokens: p.maxTokens, Messages: make([]chatTurn, len(messages))}
	for i, m := range messages {
		body.Messages[i] = chatTurn{Role: string(m.Role), Content: m.Content}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOpenAIResponse))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	var reply chatReply
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode/100 != 2 || reply.Error != nil {
		apiErr := &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if decodeErr == nil && reply.Error != nil {
			apiErr.Type, apiErr.Message = reply.Error.Type, reply.Error.Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("openai: decode response: %w", decodeErr)
	}

	out := &Response{Usage: Usage{
		InputTokens:  reply.Usage.PromptTokens,
		OutputTokens: reply.Usage.CompletionTokens,
	}}
	if len(reply.Choices) > 0 {
		out.Content = reply.Choices[0].Message.Content
	}
	return out, nil
}
