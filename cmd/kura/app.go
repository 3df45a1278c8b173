package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/llm"
	"github.com/hyperjump/kura/internal/objectstore"
	"github.com/hyperjump/kura/internal/pipeline"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/stt"
	"github.com/hyperjump/kura/internal/transform"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Config    *config.Config
	Storage   storage.Store
	Keyword   *keyword.BleveIndex
	Suggester *keyword.Suggester
	Embedder  embedding.Embedder
	Pipeline  *pipeline.Orchestrator
	Service   *ingest.Service
}

// Close releases every component that holds resources.
func (c *Components) Close() {
	if c.Pipeline != nil {
		c.Pipeline.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents wires the pipeline from cfg. Embedding and the LLM are optional: when
// a provider cannot be built the service runs without it and requests that need it fail
// with an invalid-input error.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg}

	store, err := storage.Open(ctx, cfg.Storage, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	idx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Keyword = idx
	c.Suggester = keyword.NewSuggester(idx, keyword.WithMaxAge(time.Minute))

	deps := extract.Deps{
		Settings:    extract.SettingsFromConfig(cfg),
		Logger:      logger,
		Media:       extract.NewFFmpeg(cfg.Extraction.FFmpegPath, cfg.Extraction.FFprobePath),
		Transcriber: stt.New(cfg.Transcription, stt.WithLogger(logger)),
	}
	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithTempDir(cfg.Extraction.TempDir)}
	if cfg.ObjectStore.Enabled {
		s3, err := objectstore.New(ctx, cfg.ObjectStore, objectstore.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithStager(s3))
	}
	orch, err := pipeline.New(extract.NewRegistry(deps), cfg.Extraction.Workers, pipeOpts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Pipeline = orch

	svcOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithKeywordIndex(idx)}

	embedder, err := embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		logger.Warn("embedding disabled", zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
	} else {
		c.Embedder = embedder
		chunks, err := chunker.New(cfg.Chunking.Embedding.Size, cfg.Chunking.Embedding.Overlap,
			chunker.WithEncoding(cfg.Chunking.Encoding), chunker.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize embedding chunker: %w", err)
		}
		svcOpts = append(svcOpts, ingest.WithEmbedder(embedder, chunks))
	}

	model, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Warn("transformations disabled", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	} else {
		summary, err := chunker.New(cfg.Chunking.Summary.Size, cfg.Chunking.Summary.Overlap,
			chunker.WithEncoding(cfg.Chunking.Encoding), chunker.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize summary chunker: %w", err)
		}
		engine := transform.NewEngine(model, store, transform.Config{
			Concurrency:  cfg.Transformations.Concurrency,
			Timeout:      cfg.Transformations.Timeout,
			Instructions: cfg.Transformations.Instructions,
			ModelID:      cfg.LLM.Model,
		}, transform.WithLogger(logger), transform.WithChunker(summary))
		svcOpts = append(svcOpts, ingest.WithTransformer(engine))
	}

	c.Service = ingest.NewService(orch, store, svcOpts...)
	return c, nil
}

// tempDir returns the configured scratch directory or the OS default.
func tempDir(cfg *config.Config) string {
	if cfg.Extraction.TempDir != "" {
		return cfg.Extraction.TempDir
	}
	return os.TempDir()
}
