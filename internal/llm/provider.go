// Package llm provides chat model providers for the planner.
// Supports OpenAI and OpenAI-compatible endpoints (OpenRouter, Ollama) and
// Google Gemini.
package llm

import (
	"context"
	"time"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a conversation and returns the model's reply.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured.
	Available() bool
}

// Role values for Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// SystemPrompt sets the model's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation, oldest first.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness.
	Temperature float64 `json:"temperature,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (openai, openrouter, ollama, gemini).
	Name string

	// Endpoint is the API base URL. Empty uses the vendor default.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "openai":
		return &ProviderConfig{
			Name:        "openai",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "openrouter":
		return &ProviderConfig{
			Name:        "openrouter",
			Endpoint:    "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "ollama":
		// Ollama serves an OpenAI-compatible API under /v1.
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434/v1",
			Model:       "llama3.1",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     5 * time.Minute,
		}
	case "gemini":
		return &ProviderConfig{
			Name:        "gemini",
			Model:       "gemini-2.5-flash",
			MaxTokens:   8192,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	}
}

// merge fills unset fields of cfg from the provider defaults.
func (cfg *ProviderConfig) merge() *ProviderConfig {
	def := DefaultConfig(cfg.Name)
	out := *cfg
	if out.Endpoint == "" {
		out.Endpoint = def.Endpoint
	}
	if out.Model == "" {
		out.Model = def.Model
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = def.MaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = def.Temperature
	}
	if out.Timeout == 0 {
		out.Timeout = def.Timeout
	}
	return &out
}

// requestModel picks the per-request model or the configured default.
func requestModel(req *ChatRequest, cfg *ProviderConfig) string {
	if req.Model != "" {
		return req.Model
	}
	return cfg.Model
}

// Complete is a convenience for single-turn prompts.
func Complete(ctx context.Context, p Provider, system, prompt string) (string, error) {
	resp, err := p.Chat(ctx, &ChatRequest{
		SystemPrompt: system,
		Messages:     []Message{UserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
