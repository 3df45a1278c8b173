// Package transform applies transformations to a saved source. Each transformation is an
// independent unit of work against the LLM port; units run concurrently under a bound and
// are joined into one Batch.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/llm"
	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// reducePrompt combines partial outputs produced over the chunks of a long document.
const reducePrompt = "The text below contains partial results, separated by ---, produced by applying the " +
	"instructions to consecutive parts of one document. Combine them into a single result that " +
	"follows the instructions as if they had been applied to the whole document."

// InsightWriter persists one insight.
type InsightWriter interface {
	CreateInsight(ctx context.Context, in *models.Insight) error
}

// Config bounds the engine.
type Config struct {
	Concurrency  int
	Timeout      time.Duration
	Instructions string
	ModelID      string
}

// Result is the outcome of one unit. Exactly one of Insight and Err is set.
type Result struct {
	Transformation *models.Transformation
	Insight        *models.Insight
	Err            error
}

// Batch holds the results of one Apply call in the order the transformations were given.
type Batch struct {
	Results []Result
}

// Failed returns the failed results.
func (b *Batch) Failed() []Result {
	var out []Result
	for _, r := range b.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Insights returns the insights persisted by successful units.
func (b *Batch) Insights() []*models.Insight {
	var out []*models.Insight
	for _, r := range b.Results {
		if r.Err == nil && r.Insight != nil {
			out = append(out, r.Insight)
		}
	}
	return out
}

// Err joins every unit failure, or returns nil when all succeeded.
func (b *Batch) Err() error {
	var errs []error
	for _, r := range b.Failed() {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

// Engine runs transformations against the LLM port.
type Engine struct {
	model   llm.Model
	store   InsightWriter
	chunker *chunker.Chunker
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithChunker enables map-reduce over documents longer than one chunk.
func WithChunker(c *chunker.Chunker) Option {
	return func(e *Engine) { e.chunker = c }
}

// NewEngine returns an engine. Concurrency defaults to 4 and Timeout to two minutes.
func NewEngine(model llm.Model, store InsightWriter, cfg Config, opts ...Option) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	e := &Engine{model: model, store: store, cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs every transformation against src and waits for all of them. A failing unit
// never stops the others; its error is recorded in its Result.
func (e *Engine) Apply(ctx context.Context, src *models.Source, ts []*models.Transformation) *Batch {
	batch := &Batch{Results: make([]Result, len(ts))}
	if len(ts) == 0 {
		return batch
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, t := range ts {
		g.Go(func() error {
			batch.Results[i] = e.run(ctx, src, t)
			return nil
		})
	}
	_ = g.Wait()

	failed := len(batch.Failed())
	e.logger.Info("transformations applied",
		zap.String("source_id", src.ID),
		zap.Int("total", len(ts)),
		zap.Int("failed", failed))
	return batch
}

func (e *Engine) run(ctx context.Context, src *models.Source, t *models.Transformation) (res Result) {
	res.Transformation = t
	fail := func(err error) Result {
		res.Err = &models.TransformationError{Title: t.Title, Err: err}
		e.logger.Warn("transformation failed",
			zap.String("source_id", src.ID),
			zap.String("transformation", t.Title),
			zap.Error(err))
		return res
	}
	// A panicking model or store fails only its own unit.
	defer func() {
		if p := recover(); p != nil {
			res = fail(fmt.Errorf("panic: %v", p))
		}
	}()

	if ctx.Err() != nil {
		return fail(ctx.Err())
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := e.generate(ctx, SystemPrompt(e.cfg.Instructions, t.Prompt), src.FullText)
	if err != nil {
		return fail(err)
	}
	if out == "" {
		return fail(errors.New("model returned empty output"))
	}

	in := &models.Insight{
		ID:        uuid.NewString(),
		SourceID:  src.ID,
		Type:      t.Title,
		Content:   out,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateInsight(ctx, in); err != nil {
		return fail(fmt.Errorf("failed to save insight: %w", err))
	}
	res.Insight = in
	return res
}

// generate invokes the model once, or maps the prompt over chunks and reduces the partial
// outputs when text is longer than one chunk.
func (e *Engine) generate(ctx context.Context, system, text string) (string, error) {
	if e.chunker == nil || e.chunker.Count(text) <= e.chunker.Size() {
		return e.model.Invoke(ctx, system, text, e.cfg.ModelID)
	}

	parts := e.chunker.Chunk(text)
	if len(parts) <= 1 {
		return e.model.Invoke(ctx, system, text, e.cfg.ModelID)
	}
	partials := make([]string, 0, len(parts))
	for i, p := range parts {
		out, err := e.model.Invoke(ctx, system, p, e.cfg.ModelID)
		if err != nil {
			return "", fmt.Errorf("chunk %d of %d: %w", i+1, len(parts), err)
		}
		if out != "" {
			partials = append(partials, out)
		}
	}
	if len(partials) == 0 {
		return "", nil
	}
	return e.model.Invoke(ctx, system+"\n\n"+reducePrompt, strings.Join(partials, "\n---\n"), e.cfg.ModelID)
}

// SystemPrompt composes the optional global preamble with a transformation's own prompt.
func SystemPrompt(instructions, prompt string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return prompt
	}
	return instructions + "\n\n" + prompt
}
