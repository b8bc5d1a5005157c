package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	config *ProviderConfig

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGeminiProvider creates a Gemini provider. The SDK client is created on
// first use.
func NewGeminiProvider(cfg *ProviderConfig) *GeminiProvider {
	if cfg == nil {
		cfg = DefaultConfig("gemini")
	}
	return &GeminiProvider{config: cfg.merge()}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Available reports whether an API key is configured.
func (p *GeminiProvider) Available() bool {
	return p.config.APIKey != ""
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.config.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return p.client, p.clientErr
}

// Chat sends the conversation to GenerateContent.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	t32 := float32(temperature)
	gcfg := &genai.GenerateContentConfig{Temperature: &t32}
	if req.SystemPrompt != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	model := requestModel(req, p.config)
	resp, err := client.Models.GenerateContent(ctx, model, contents, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &ChatResponse{
		Content:  resp.Text(),
		Model:    model,
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	return out, nil
}
