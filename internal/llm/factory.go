package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/hiroaki404/trip-ai/internal/config"
)

// NewProvider creates the planning provider from configuration.
func NewProvider(cfg *config.Config) (Provider, error) {
	return fromConfig(cfg, cfg.LLM.DefaultProvider, "")
}

// NewFixingProvider creates the provider used to repair structured output.
// It falls back to the default provider when none is configured.
func NewFixingProvider(cfg *config.Config) (Provider, error) {
	name := cfg.LLM.FixingProvider
	if name == "" {
		name = cfg.LLM.DefaultProvider
	}
	return fromConfig(cfg, name, cfg.LLM.FixingModel)
}

func fromConfig(cfg *config.Config, name, model string) (Provider, error) {
	if name == "" {
		name = "openai"
	}

	providerCfg, exists := cfg.LLM.Providers[name]
	if !exists {
		return nil, fmt.Errorf("provider '%s' not found in configuration", name)
	}

	// Get API key from config, falling back to environment variables
	apiKey := providerCfg.APIKey
	if apiKey == "" {
		apiKey = getAPIKeyFromEnv(name)
	}
	if model == "" {
		model = providerCfg.Model
	}

	return NewProviderByName(name, &ProviderConfig{
		Name:        name,
		Endpoint:    providerCfg.Endpoint,
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   providerCfg.MaxTokens,
		Temperature: providerCfg.Temperature,
		Timeout:     time.Duration(providerCfg.TimeoutSec) * time.Second,
	})
}

// getAPIKeyFromEnv retrieves the API key from standard environment variables.
func getAPIKeyFromEnv(providerName string) string {
	envVars := map[string]string{
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPEN_ROUTER_API_KEY",
		"gemini":     "GEMINI_API_KEY",
	}
	if envVar, ok := envVars[providerName]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

// NewProviderByName creates a provider by vendor name.
func NewProviderByName(name string, cfg *ProviderConfig) (Provider, error) {
	switch name {
	case "openai", "openrouter", "ollama":
		return NewOpenAIProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
