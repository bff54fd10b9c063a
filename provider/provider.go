// Package provider defines the AI chat backends used to recommend agents
// for tasks.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown provider")

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is a completed provider response.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is an AI chat backend.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai", "mock").
	Name() string

	// Chat sends the conversation and returns the complete response.
	Chat(ctx context.Context, messages []Message) (*Response, error)
}

// Config holds the settings shared by the HTTP-backed providers.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// New returns the provider registered under name.
func New(name string, cfg Config) (Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}
