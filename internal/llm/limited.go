package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LimitConfig bounds request rate and retries. Zero RequestsPerSecond means unlimited.
type LimitConfig struct {
	RequestsPerSecond float64
	MaxRetries        int
	Backoff           time.Duration
}

// Limited wraps a Model with a token-bucket rate limit and retry with exponential backoff.
// Context errors are never retried.
type Limited struct {
	model   Model
	limiter *rate.Limiter
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// Option configures a Limited model.
type Option func(*Limited)

// WithLogger sets the logger for retry messages.
func WithLogger(l *zap.Logger) Option {
	return func(m *Limited) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewLimited wraps m.
func NewLimited(m Model, cfg LimitConfig, opts ...Option) *Limited {
	l := &Limited{model: m, retries: cfg.MaxRetries, backoff: cfg.Backoff, logger: zap.NewNop()}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if l.retries < 0 {
		l.retries = 0
	}
	if l.backoff <= 0 {
		l.backoff = time.Second
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Invoke calls the wrapped model, retrying failures up to MaxRetries times.
func (l *Limited) Invoke(ctx context.Context, systemPrompt, userText, modelID string) (string, error) {
	var lastErr error
	delay := l.backoff
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		out, err := l.model.Invoke(ctx, systemPrompt, userText, modelID)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		l.logger.Debug("llm call failed", zap.Int("attempt", attempt+1), zap.Int("max_attempts", l.retries+1), zap.Error(err))
	}
	return "", lastErr
}
