package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kura/internal/models"
	"github.com/pgvector/pgvector-go"
)

// sqlStore holds the queries shared by both backends. Queries are written with "?"
// placeholders and rebound for drivers that number them.
type sqlStore struct {
	db       *sql.DB
	numbered bool
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", models.ErrNotFound, kind, id)
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return string(data), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateSource inserts a source. FullText is written once here and never updated.
func (s *sqlStore) CreateSource(ctx context.Context, src *models.Source) error {
	return s.insertSource(ctx, s.db, src)
}

func (s *sqlStore) insertSource(ctx context.Context, db execer, src *models.Source) error {
	metadata, err := marshalJSON(src.Metadata)
	if err != nil {
		return err
	}
	topics, err := marshalJSON(nonNilTopics(src.Topics))
	if err != nil {
		return err
	}
	if src.CreatedAt.IsZero() {
		now := time.Now()
		src.CreatedAt = now
		src.UpdatedAt = now
	}
	_, err = db.ExecContext(ctx, s.q(
		`INSERT INTO sources (id, title, asset_file_path, asset_url, topics, full_text, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		src.ID, src.Title, src.Asset.FilePath, src.Asset.URL, topics, src.FullText, metadata, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// PutSource writes src in one transaction: any source stored under the same ID is removed
// with its insights, chunks and notebook links, then src is inserted and linked to
// notebookID when it is set. On error the previous state is untouched.
func (s *sqlStore) PutSource(ctx context.Context, src *models.Source, notebookID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.deleteSource(ctx, tx, src.ID); err != nil {
		return err
	}
	if err := s.insertSource(ctx, tx, src); err != nil {
		return err
	}
	if notebookID != "" {
		if err := s.linkNotebook(ctx, tx, src.ID, notebookID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const sourceColumns = `id, title, asset_file_path, asset_url, topics, full_text, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var src models.Source
	var topics, metadata string
	if err := row.Scan(&src.ID, &src.Title, &src.Asset.FilePath, &src.Asset.URL, &topics, &src.FullText, &metadata, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return nil, err
	}
	if topics != "" {
		if err := json.Unmarshal([]byte(topics), &src.Topics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal topics: %w", err)
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &src.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	src.Topics = nonNilTopics(src.Topics)
	return &src, nil
}

func nonNilTopics(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}

// GetSource returns a source by ID.
func (s *sqlStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	src, err := scanSource(s.db.QueryRowContext(ctx, s.q(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("source", id)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// UpdateSource updates title, topics and metadata. Full text and asset are immutable.
func (s *sqlStore) UpdateSource(ctx context.Context, src *models.Source) error {
	metadata, err := marshalJSON(src.Metadata)
	if err != nil {
		return err
	}
	topics, err := marshalJSON(nonNilTopics(src.Topics))
	if err != nil {
		return err
	}
	src.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE sources SET title = ?, topics = ?, metadata = ?, updated_at = ? WHERE id = ?`),
		src.Title, topics, metadata, src.UpdatedAt, src.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("source", src.ID)
	}
	return nil
}

// DeleteSource removes a source with its insights, chunks and notebook links.
func (s *sqlStore) DeleteSource(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := s.deleteSource(ctx, tx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("source", id)
	}
	return tx.Commit()
}

// deleteSource removes a source and everything hanging off it, returning the number of
// source rows removed.
func (s *sqlStore) deleteSource(ctx context.Context, tx execer, id string) (int64, error) {
	for _, table := range []string{"insights", "embedding_chunks", "source_notebooks"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE source_id = ?`), id); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	result, err := tx.ExecContext(ctx, s.q(`DELETE FROM sources WHERE id = ?`), id)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListSources returns sources newest first.
func (s *sqlStore) ListSources(ctx context.Context, offset, limit int) ([]*models.Source, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// AddToNotebook links a source to a notebook. Linking twice is a no-op.
func (s *sqlStore) AddToNotebook(ctx context.Context, sourceID, notebookID string) error {
	return s.linkNotebook(ctx, s.db, sourceID, notebookID)
}

func (s *sqlStore) linkNotebook(ctx context.Context, db execer, sourceID, notebookID string) error {
	_, err := db.ExecContext(ctx, s.q(
		`INSERT INTO source_notebooks (source_id, notebook_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (source_id, notebook_id) DO NOTHING`),
		sourceID, notebookID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to link notebook: %w", err)
	}
	return nil
}

// NotebookSources returns the ids of sources linked to a notebook, oldest link first.
func (s *sqlStore) NotebookSources(ctx context.Context, notebookID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT source_id FROM source_notebooks WHERE notebook_id = ? ORDER BY created_at, source_id`), notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateInsight appends an insight.
func (s *sqlStore) CreateInsight(ctx context.Context, in *models.Insight) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO insights (id, source_id, insight_type, content, created_at) VALUES (?, ?, ?, ?, ?)`),
		in.ID, in.SourceID, in.Type, in.Content, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}
	return nil
}

// ListInsights returns a source's insights in creation order.
func (s *sqlStore) ListInsights(ctx context.Context, sourceID string) ([]*models.Insight, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, source_id, insight_type, content, created_at FROM insights
		 WHERE source_id = ? ORDER BY created_at, id`), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Insight
	for rows.Next() {
		var in models.Insight
		if err := rows.Scan(&in.ID, &in.SourceID, &in.Type, &in.Content, &in.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

func vectorArg(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// ReplaceChunks swaps a source's chunks for chunks in one transaction.
func (s *sqlStore) ReplaceChunks(ctx context.Context, sourceID string, chunks []*models.EmbeddingChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM embedding_chunks WHERE source_id = ?`), sourceID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO embedding_chunks (id, source_id, position, content, token_count, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, ch := range chunks {
		ch.SourceID = sourceID
		ch.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.SourceID, ch.Position, ch.Content, ch.TokenCount, vectorArg(ch.Embedding), ch.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, source_id, position, content, token_count, embedding, created_at`

func scanChunk(row rowScanner) (*models.EmbeddingChunk, error) {
	var ch models.EmbeddingChunk
	var emb *pgvector.Vector
	if err := row.Scan(&ch.ID, &ch.SourceID, &ch.Position, &ch.Content, &ch.TokenCount, &emb, &ch.CreatedAt); err != nil {
		return nil, err
	}
	if emb != nil {
		ch.Embedding = emb.Slice()
	}
	return &ch, nil
}

// GetChunks returns a source's chunks by position.
func (s *sqlStore) GetChunks(ctx context.Context, sourceID string) ([]*models.EmbeddingChunk, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+chunkColumns+` FROM embedding_chunks WHERE source_id = ? ORDER BY position`), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EmbeddingChunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SaveTransformation inserts or replaces a transformation.
func (s *sqlStore) SaveTransformation(ctx context.Context, t *models.Transformation) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO transformations (id, name, title, description, prompt, apply_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, title = excluded.title,
		   description = excluded.description, prompt = excluded.prompt,
		   apply_default = excluded.apply_default, updated_at = excluded.updated_at`),
		t.ID, t.Name, t.Title, t.Description, t.Prompt, t.ApplyDefault, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transformation: %w", err)
	}
	return nil
}

const transformationColumns = `id, name, title, description, prompt, apply_default, created_at, updated_at`

func scanTransformation(row rowScanner) (*models.Transformation, error) {
	var t models.Transformation
	if err := row.Scan(&t.ID, &t.Name, &t.Title, &t.Description, &t.Prompt, &t.ApplyDefault, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransformation returns a transformation by ID.
func (s *sqlStore) GetTransformation(ctx context.Context, id string) (*models.Transformation, error) {
	t, err := scanTransformation(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+transformationColumns+` FROM transformations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("transformation", id)
	}
	return t, err
}

// ListTransformations returns all transformations by name.
func (s *sqlStore) ListTransformations(ctx context.Context) ([]*models.Transformation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transformationColumns+` FROM transformations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Transformation
	for rows.Next() {
		t, err := scanTransformation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountSources returns the total number of sources.
func (s *sqlStore) CountSources(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of embedding chunks.
func (s *sqlStore) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
