// Package keyword provides full-text search over ingested sources.
package keyword

import (
	"context"

	"github.com/hyperjump/kura/internal/models"
)

// SearchOptions tunes a keyword search. Nil means defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score of title matches. Values <= 1 search title and content
	// together with one query.
	TitleBoost float64
	// Fuzziness is the maximum edit distance per term; zero disables fuzzy matching.
	Fuzziness int
}

// Index is the keyword index port.
type Index interface {
	IndexSource(ctx context.Context, src *models.Source) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single keyword search hit.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Document is what gets indexed for a source.
type Document struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Topics  []string `json:"topics"`
}

// NewDocument builds the indexed form of src.
func NewDocument(src *models.Source) *Document {
	return &Document{Title: src.Title, Content: src.FullText, Topics: src.Topics}
}

// TermDictionary exposes indexed terms for suggestions.
type TermDictionary interface {
	Terms() ([]string, error)
	TermFrequency(term string) (int, error)
}
