// Package storage defines the persistence port for sources, insights, embedding chunks,
// transformations and notebook links, with SQLite and Postgres implementations.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/models"
)

// Store persists everything the pipeline produces. Deleting a source removes its insights,
// chunks and notebook links in the same transaction.
type Store interface {
	// Source operations
	CreateSource(ctx context.Context, src *models.Source) error
	PutSource(ctx context.Context, src *models.Source, notebookID string) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	UpdateSource(ctx context.Context, src *models.Source) error
	DeleteSource(ctx context.Context, id string) error
	ListSources(ctx context.Context, offset, limit int) ([]*models.Source, error)

	// Notebook links
	AddToNotebook(ctx context.Context, sourceID, notebookID string) error
	NotebookSources(ctx context.Context, notebookID string) ([]string, error)

	// Insight operations
	CreateInsight(ctx context.Context, in *models.Insight) error
	ListInsights(ctx context.Context, sourceID string) ([]*models.Insight, error)

	// Chunk operations
	ReplaceChunks(ctx context.Context, sourceID string, chunks []*models.EmbeddingChunk) error
	GetChunks(ctx context.Context, sourceID string) ([]*models.EmbeddingChunk, error)
	SimilarChunks(ctx context.Context, query []float32, limit int) ([]ScoredChunk, error)

	// Transformation operations
	SaveTransformation(ctx context.Context, t *models.Transformation) error
	GetTransformation(ctx context.Context, id string) (*models.Transformation, error)
	ListTransformations(ctx context.Context) ([]*models.Transformation, error)

	// Stats
	CountSources(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// ScoredChunk is a chunk with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk *models.EmbeddingChunk
	Score float64
}

// Opener builds a store from the storage config.
type Opener func(ctx context.Context, cfg config.StorageConfig, dimensions int) (Store, error)

var drivers = map[string]Opener{
	"sqlite": func(ctx context.Context, cfg config.StorageConfig, _ int) (Store, error) {
		return NewSQLiteStore(cfg.DatabasePath)
	},
	"postgres": func(ctx context.Context, cfg config.StorageConfig, dims int) (Store, error) {
		return NewPostgresStore(ctx, cfg.PostgresDSN, dims)
	},
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, dimensions int) (Store, error) {
	open, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return open(ctx, cfg, dimensions)
}

// DefaultTransformations filters ts to those flagged to run when a request names none.
func DefaultTransformations(ts []*models.Transformation) []*models.Transformation {
	var out []*models.Transformation
	for _, t := range ts {
		if t.ApplyDefault {
			out = append(out, t)
		}
	}
	return out
}
