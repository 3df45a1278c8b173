package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.LLM
}

// NewOpenAI creates a client for model at baseURL. An empty baseURL uses the OpenAI API; an
// empty token is sent as "none" for local servers that ignore it.
func NewOpenAI(baseURL, token, model string) (*OpenAI, error) {
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return &OpenAI{client: client}, nil
}

// Invoke sends one system and one human message and returns the first choice.
func (o *OpenAI) Invoke(ctx context.Context, systemPrompt, userText, modelID string) (string, error) {
	var content []llms.MessageContent
	if systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, userText))

	var opts []llms.CallOption
	if modelID != "" {
		opts = append(opts, llms.WithModel(modelID))
	}
	resp, err := o.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generate: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
