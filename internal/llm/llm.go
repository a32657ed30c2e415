package llm

import (
	"context"
)

// Provider issues a single generation call. Providers never retry
// internally; retry decisions belong to the workflow orchestrator.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Provider         string
	Model            string
	BaseURL          string
	GoogleAPIKey     string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:  cfg.GoogleAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.Model,
			BaseURL: defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
