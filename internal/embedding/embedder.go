// Package embedding turns text into vectors for semantic retrieval. Providers are registered
// by name and selected from config; every provider is wrapped in an LRU cache.
package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/kura/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Factory builds a provider from config.
type Factory func(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error)

var providers = map[string]Factory{
	"onnx": func(_ context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	},
	"gemini": func(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	},
	"openai": func(_ context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions)
	},
	"mock": func(_ context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
		return NewMockEmbedder(cfg.Dimensions), nil
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

// New builds the configured provider and wraps it in a cache of cfg.CacheSize entries.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (have %v)", cfg.Provider, Providers())
	}
	e, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}
	if logger != nil {
		logger.Debug("embedder ready", zap.String("provider", cfg.Provider), zap.Int("dimensions", e.Dimensions()))
	}
	if cfg.CacheSize <= 0 {
		return e, nil
	}
	return NewCached(e, cfg.CacheSize), nil
}
