// Package llm is the language-model port used by transformations. Providers are registered
// by name; every provider is wrapped with a request rate limit and retry with backoff.
package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/kura/internal/config"
	"go.uber.org/zap"
)

// Model generates text from a system prompt and a user turn. modelID overrides the
// provider's default model when non-empty.
type Model interface {
	Invoke(ctx context.Context, systemPrompt, userText, modelID string) (string, error)
}

// Factory builds a provider from config.
type Factory func(ctx context.Context, cfg config.LLMConfig) (Model, error)

var providers = map[string]Factory{
	"openai": func(_ context.Context, cfg config.LLMConfig) (Model, error) {
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model)
	},
	"gemini": func(ctx context.Context, cfg config.LLMConfig) (Model, error) {
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	},
}

// Providers lists the registered provider names.
func Providers() []string {
	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the configured provider wrapped with rate limiting and retries.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Model, error) {
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (have %v)", cfg.Provider, Providers())
	}
	m, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.Provider, err)
	}
	return NewLimited(m, LimitConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        cfg.MaxRetries,
		Backoff:           cfg.RetryBackoff,
	}, WithLogger(logger)), nil
}
