package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to OpenAI or any OpenAI-compatible chat endpoint.
type OpenAIProvider struct {
	config *ProviderConfig
	client openai.Client
}

// NewOpenAIProvider creates a provider for cfg. Endpoint selects the
// compatible service (OpenRouter, Ollama).
func NewOpenAIProvider(cfg *ProviderConfig) *OpenAIProvider {
	if cfg == nil {
		cfg = DefaultConfig("openai")
	}
	cfg = cfg.merge()

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.Endpoint),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(2),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &OpenAIProvider{
		config: cfg,
		client: openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.config.Name
}

// Available reports whether credentials are configured. Ollama needs none.
func (p *OpenAIProvider) Available() bool {
	return p.config.APIKey != "" || p.config.Name == "ollama"
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(requestModel(req, p.config)),
		Messages: messages,
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	params.Temperature = openai.Float(temperature)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.config.Name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s chat: no choices in response", p.config.Name)
	}

	choice := completion.Choices[0]
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            completion.Model,
		TokensUsed:       int(completion.Usage.TotalTokens),
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		Duration:         time.Since(start),
		FinishReason:     string(choice.FinishReason),
	}, nil
}
