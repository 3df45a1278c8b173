// Package stt transcribes audio files through an OpenAI-compatible transcription API.
package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kura/internal/config"
	"go.uber.org/zap"
)

// Whisper calls POST {base}/audio/transcriptions with a multipart upload.
type Whisper struct {
	http     *resty.Client
	baseURL  string
	apiKey   string
	model    string
	language string
	logger   *zap.Logger
}

// Option configures a Whisper client.
type Option func(*Whisper)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Whisper) { w.logger = l }
}

// WithHTTPClient replaces the resty client.
func WithHTTPClient(c *resty.Client) Option {
	return func(w *Whisper) { w.http = c }
}

// New builds a transcription client from config. The per-call timeout is applied by the
// caller per audio segment.
func New(cfg config.TranscriptionConfig, opts ...Option) *Whisper {
	w := &Whisper{
		http:     resty.New(),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		logger:   zap.NewNop(),
	}
	if w.model == "" {
		w.model = "whisper-1"
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type transcription struct {
	Text string `json:"text"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the audio file at audioPath and returns its text.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	form := map[string]string{
		"model":           w.model,
		"response_format": "json",
	}
	if w.language != "" {
		form["language"] = w.language
	}
	var out transcription
	var apiErr apiError
	req := w.http.R().
		SetContext(ctx).
		SetFile("file", audioPath).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr)
	if w.apiKey != "" {
		req.SetAuthToken(w.apiKey)
	}

	start := time.Now()
	resp, err := req.Post(w.baseURL + "/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	if !resp.IsSuccess() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("transcription failed: status %d: %s", resp.StatusCode(), msg)
	}
	w.logger.Debug("audio transcribed",
		zap.String("path", audioPath),
		zap.Duration("took", time.Since(start)),
		zap.Int("chars", len(out.Text)))
	return strings.TrimSpace(out.Text), nil
}
