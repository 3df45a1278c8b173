package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperjump/kura/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements Store on Postgres with the pgvector extension.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects to dsn, verifies the connection and creates the schema. dimensions
// fixes the embedding column width; zero leaves it unconstrained.
func NewPostgresStore(ctx context.Context, dsn string, dimensions int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := initPostgresSchema(pingCtx, db, dimensions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &PostgresStore{sqlStore: &sqlStore{db: db, numbered: true}}, nil
}

func initPostgresSchema(ctx context.Context, db *sql.DB, dimensions int) error {
	vectorType := "vector"
	if dimensions > 0 {
		vectorType = fmt.Sprintf("vector(%d)", dimensions)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			asset_file_path TEXT NOT NULL DEFAULT '',
			asset_url TEXT NOT NULL DEFAULT '',
			topics TEXT NOT NULL DEFAULT '[]',
			full_text TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_created_at ON sources(created_at)`,
		`CREATE TABLE IF NOT EXISTS insights (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			insight_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_source_id ON insights(source_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embedding_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			embedding %s,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vectorType),
		`CREATE INDEX IF NOT EXISTS idx_chunks_source_position ON embedding_chunks(source_id, position)`,
		`CREATE TABLE IF NOT EXISTS source_notebooks (
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			notebook_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_id, notebook_id)
		)`,
		`CREATE TABLE IF NOT EXISTS transformations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			apply_default BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SimilarChunks returns the chunks nearest to query by cosine distance.
func (s *PostgresStore) SimilarChunks(ctx context.Context, query []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+chunkColumns+`, 1 - (embedding <=> ?) AS score
		 FROM embedding_chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> ?
		 LIMIT ?`),
		pgvector.NewVector(query), pgvector.NewVector(query), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		sc := ScoredChunk{Chunk: &models.EmbeddingChunk{}}
		var emb *pgvector.Vector
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.SourceID, &sc.Chunk.Position, &sc.Chunk.Content,
			&sc.Chunk.TokenCount, &emb, &sc.Chunk.CreatedAt, &sc.Score); err != nil {
			return nil, err
		}
		if emb != nil {
			sc.Chunk.Embedding = emb.Slice()
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
