// Package ingest runs one ingestion request end to end: extraction pipeline, persistence,
// keyword indexing, then the embedding side branch and the transformation fan-out.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/transform"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline turns a request's content state into extracted content.
type Pipeline interface {
	Run(ctx context.Context, cs *models.ContentState) (*models.ContentState, error)
}

// Transformer applies transformations to a saved source.
type Transformer interface {
	Apply(ctx context.Context, src *models.Source, ts []*models.Transformation) *transform.Batch
}

// Result is the outcome of one ingestion. Source is always set on success; Batch is nil when
// no transformation ran and Chunks is zero when embedding was not requested.
type Result struct {
	Source   *models.Source
	Batch    *transform.Batch
	Chunks   int
	EmbedErr error
}

// Service wires the pipeline to storage and the model ports. keyword, embedder and
// transformer are optional.
type Service struct {
	pipeline    Pipeline
	store       storage.Store
	index       keyword.Index
	embedder    embedding.Embedder
	chunker     *chunker.Chunker
	transformer Transformer
	logger      *zap.Logger
	newID       func() string
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithKeywordIndex indexes every saved source for keyword search.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithEmbedder enables the embedding side branch. c splits full text into embedding chunks.
func WithEmbedder(e embedding.Embedder, c *chunker.Chunker) Option {
	return func(s *Service) {
		s.embedder = e
		s.chunker = c
	}
}

// WithTransformer enables transformations.
func WithTransformer(t Transformer) Option {
	return func(s *Service) { s.transformer = t }
}

// NewService returns a service.
func NewService(p Pipeline, store storage.Store, opts ...Option) *Service {
	s := &Service{
		pipeline: p,
		store:    store,
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates req, runs the pipeline and persists the resulting source. Nothing is
// persisted when validation, transformation lookup or extraction fails. Embedding and
// transformations run concurrently after the source is saved; their failures are reported in
// the Result, not returned.
func (s *Service) Ingest(ctx context.Context, req *models.IngestRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ts, err := s.transformationsFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ts) > 0 && s.transformer == nil {
		return nil, models.NewInvalidInput("transformations are not configured")
	}

	start := time.Now()
	cs, err := s.pipeline.Run(ctx, models.NewContentState(req))
	if err != nil {
		return nil, err
	}

	id := req.SourceID
	if id == "" {
		id = s.newID()
	}
	src := models.FromState(id, cs, s.now())
	if req.Title != "" {
		src.Title = req.Title
	}
	// A fixed ID replaces the stored source in the same transaction that writes the new one.
	if err := s.store.PutSource(ctx, src, req.NotebookID); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}
	if s.index != nil {
		if err := s.index.IndexSource(ctx, src); err != nil {
			s.logger.Warn("keyword indexing failed", zap.String("source_id", src.ID), zap.Error(err))
		}
	}

	res := &Result{Source: src}
	var g errgroup.Group
	switch {
	case req.Embed && s.embedder == nil:
		res.EmbedErr = models.NewInvalidInput("embedding is not configured")
	case req.Embed:
		g.Go(func() error {
			res.Chunks, res.EmbedErr = s.embed(ctx, src)
			if res.EmbedErr != nil {
				s.logger.Warn("embedding failed", zap.String("source_id", src.ID), zap.Error(res.EmbedErr))
			}
			return nil
		})
	}
	if len(ts) > 0 {
		g.Go(func() error {
			res.Batch = s.transformer.Apply(ctx, src, ts)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("source ingested",
		zap.String("source_id", src.ID),
		zap.String("title", src.Title),
		zap.String("type", cs.IdentifiedType),
		zap.Int("chars", len(src.FullText)),
		zap.Int("chunks", res.Chunks),
		zap.Int("transformations", len(ts)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// transformationsFor resolves the transformations a request names, or the defaults when it
// names none and asks for them. An unknown id is invalid input.
func (s *Service) transformationsFor(ctx context.Context, req *models.IngestRequest) ([]*models.Transformation, error) {
	if len(req.TransformationIDs) > 0 {
		return s.lookupTransformations(ctx, req.TransformationIDs)
	}
	if !req.ApplyDefaults {
		return nil, nil
	}
	all, err := s.store.ListTransformations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transformations: %w", err)
	}
	return storage.DefaultTransformations(all), nil
}

func (s *Service) lookupTransformations(ctx context.Context, ids []string) ([]*models.Transformation, error) {
	ts := make([]*models.Transformation, 0, len(ids))
	for _, id := range ids {
		t, err := s.store.GetTransformation(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewInvalidInput(fmt.Sprintf("unknown transformation %q", id))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load transformation %s: %w", id, err)
		}
		ts = append(ts, t)
	}
	return ts, nil
}

// Embed re-chunks and re-embeds a saved source, replacing its previous chunks. It returns the
// number of chunks stored.
func (s *Service) Embed(ctx context.Context, sourceID string) (int, error) {
	if s.embedder == nil {
		return 0, models.NewInvalidInput("embedding is not configured")
	}
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	return s.embed(ctx, src)
}

func (s *Service) embed(ctx context.Context, src *models.Source) (int, error) {
	chunks := s.chunker.ChunkSource(src.ID, src.FullText)
	if len(chunks) == 0 {
		return 0, s.store.ReplaceChunks(ctx, src.ID, nil)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	now := s.now()
	for i, c := range chunks {
		c.Embedding = vecs[i]
		c.CreatedAt = now
	}
	if err := s.store.ReplaceChunks(ctx, src.ID, chunks); err != nil {
		return 0, fmt.Errorf("failed to save chunks: %w", err)
	}
	return len(chunks), nil
}

// Transform applies the named transformations to a saved source.
func (s *Service) Transform(ctx context.Context, sourceID string, ids []string) (*transform.Batch, error) {
	if s.transformer == nil {
		return nil, models.NewInvalidInput("transformations are not configured")
	}
	if len(ids) == 0 {
		return nil, models.NewInvalidInput("no transformations requested")
	}
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	ts, err := s.lookupTransformations(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.transformer.Apply(ctx, src, ts), nil
}

// Delete removes a source with its insights, chunks and notebook links, and drops it from
// the keyword index.
func (s *Service) Delete(ctx context.Context, sourceID string) error {
	if err := s.store.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, sourceID); err != nil {
			s.logger.Warn("keyword delete failed", zap.String("source_id", sourceID), zap.Error(err))
		}
	}
	s.logger.Info("source deleted", zap.String("source_id", sourceID))
	return nil
}

// Similar embeds query and returns the nearest stored chunks.
func (s *Service) Similar(ctx context.Context, query string, limit int) ([]storage.ScoredChunk, error) {
	if s.embedder == nil {
		return nil, models.NewInvalidInput("embedding is not configured")
	}
	if query == "" {
		return nil, models.NewInvalidInput("empty query")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.store.SimilarChunks(ctx, vec, limit)
}
