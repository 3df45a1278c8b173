package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder embeds text through any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	embedder   embeddings.Embedder
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for model at baseURL. An empty baseURL uses the
// OpenAI API; an empty token is sent as "none" for local servers that ignore it.
func NewOpenAIEmbedder(baseURL, token, model string, dimensions int) (*OpenAIEmbedder, error) {
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, openai.WithEmbeddingModel(model))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{embedder: e, dimensions: dimensions}, nil
}

// Embed embeds one text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vecs, nil
}

// Dimensions returns the configured embedding width.
func (o *OpenAIEmbedder) Dimensions() int { return o.dimensions }

// Close is a no-op; the HTTP client needs no teardown.
func (o *OpenAIEmbedder) Close() error { return nil }
