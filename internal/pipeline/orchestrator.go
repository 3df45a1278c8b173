package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/objectstore"
	"github.com/hyperjump/kura/internal/resolve"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Stager copies remote inputs to local files and removes them on cleanup.
type Stager interface {
	Stage(ctx context.Context, uri, dir string) (string, error)
	Delete(ctx context.Context, uri string) error
}

// Orchestrator runs the resolve, route, extract and cleanup stages for one request at a time.
// It is safe for concurrent use; blocking extractors share one worker pool.
type Orchestrator struct {
	registry *extract.Registry
	pool     *ants.Pool
	stager   Stager
	tempDir  string
	logger   *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStager enables s3:// file paths.
func WithStager(s Stager) Option {
	return func(o *Orchestrator) { o.stager = s }
}

// WithTempDir sets where staged objects are downloaded. Empty means the OS default.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// New creates an orchestrator whose text, pdf and office extraction runs on a pool of
// workers goroutines.
func New(registry *extract.Registry, workers int, opts ...Option) (*Orchestrator, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction pool: %w", err)
	}
	o := &Orchestrator{registry: registry, pool: pool, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Close releases the worker pool.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

// run holds per-request scratch state that is not part of ContentState.
type run struct {
	stagedDir string
}

// Run drives cs to StateDone and returns it with Content, Title and Metadata filled in.
// Every error is terminal for the request.
func (o *Orchestrator) Run(ctx context.Context, cs *models.ContentState) (*models.ContentState, error) {
	if cs.Metadata == nil {
		cs.Metadata = map[string]interface{}{}
	}
	var r run
	defer func() {
		if r.stagedDir != "" {
			if err := os.RemoveAll(r.stagedDir); err != nil {
				o.logger.Warn("failed to remove staging dir", zap.String("dir", r.stagedDir), zap.Error(err))
			}
		}
	}()

	state := StateStart
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := o.act(ctx, state, cs, &r); err != nil {
			o.logger.Debug("pipeline stage failed", zap.Stringer("state", state), zap.Error(err))
			return nil, err
		}
		next, err := Next(state, cs)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("pipeline transition", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}
	return cs, nil
}

func (o *Orchestrator) act(ctx context.Context, s State, cs *models.ContentState, r *run) error {
	switch s {
	case StateResolve:
		if err := o.stage(ctx, cs, r); err != nil {
			return err
		}
		return resolve.Resolve(ctx, cs)
	case StateExtract:
		return o.extract(ctx, cs)
	case StateCleanup:
		o.cleanup(ctx, cs)
	}
	return nil
}

// stage downloads an s3:// file path and points cs at the local copy.
func (o *Orchestrator) stage(ctx context.Context, cs *models.ContentState, r *run) error {
	if cs.FilePath == "" || !objectstore.IsRemote(cs.FilePath) {
		return nil
	}
	if o.stager == nil {
		return models.NewInvalidInput("object storage is not configured")
	}
	dir, err := os.MkdirTemp(o.tempDir, "kura-stage-*")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	r.stagedDir = dir
	local, err := o.stager.Stage(ctx, cs.FilePath, dir)
	if err != nil {
		return err
	}
	cs.RemoteObject = cs.FilePath
	cs.FilePath = local
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, cs *models.ContentState) error {
	name, err := extract.Route(cs.IdentifiedType)
	if err != nil {
		return err
	}
	ex, err := o.registry.Get(name)
	if err != nil {
		return err
	}

	res, err := o.invoke(ctx, name, ex, cs)
	if err != nil {
		return &models.ExtractionError{Extractor: name, Err: err}
	}
	if res == nil {
		res = &extract.Result{}
	}
	for _, w := range res.Warnings {
		o.logger.Warn("extraction warning", zap.String("extractor", name), zap.Error(w))
	}
	if res.Content == "" {
		noContent := fmt.Errorf("%w: %s extractor returned empty text", models.ErrNoContent, name)
		return errors.Join(append([]error{noContent}, res.Warnings...)...)
	}

	cs.Content = res.Content
	if res.Title != "" {
		cs.Title = res.Title
	}
	cs.MergeMeta(res.Metadata)
	cs.SetMeta("extractor", name)
	o.logger.Debug("extracted content",
		zap.String("extractor", name),
		zap.String("identified_type", cs.IdentifiedType),
		zap.Int("chars", len(cs.Content)))
	return nil
}

// invoke runs blocking extractors on the pool and everything else on the caller's goroutine.
func (o *Orchestrator) invoke(ctx context.Context, name string, ex extract.Extractor, cs *models.ContentState) (*extract.Result, error) {
	if !extract.Blocking(name) {
		return ex.Extract(ctx, cs)
	}
	type outcome struct {
		res *extract.Result
		err error
	}
	done := make(chan outcome, 1)
	if err := o.pool.Submit(func() {
		res, err := ex.Extract(ctx, cs)
		done <- outcome{res, err}
	}); err != nil {
		return nil, fmt.Errorf("failed to submit extraction: %w", err)
	}
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cleanup removes the input file when the request asked for it. Failures are logged only;
// the extracted text is already in hand.
func (o *Orchestrator) cleanup(ctx context.Context, cs *models.ContentState) {
	if !cs.DeleteSource || cs.FilePath == "" {
		return
	}
	if err := os.Remove(cs.FilePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			o.logger.Warn("source file already gone", zap.String("path", cs.FilePath))
		} else {
			o.logger.Warn("failed to delete source file", zap.String("path", cs.FilePath), zap.Error(err))
		}
	} else {
		o.logger.Info("deleted source file", zap.String("path", cs.FilePath))
	}
	if cs.RemoteObject != "" && o.stager != nil {
		if err := o.stager.Delete(ctx, cs.RemoteObject); err != nil {
			o.logger.Warn("failed to delete source object", zap.String("uri", cs.RemoteObject), zap.Error(err))
		}
	}
}
