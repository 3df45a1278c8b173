// Package search answers keyword, semantic and hybrid queries over ingested sources.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Mode selects which indexes a query runs against.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

const snippetLen = 200

// Query is one search request. Zero values take the configured defaults.
type Query struct {
	Text       string
	Mode       Mode
	Limit      int
	Fuzziness  int
	TitleBoost float64
}

// Hit is one source in a response.
type Hit struct {
	SourceID      string  `json:"source_id"`
	Title         string  `json:"title"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
	Snippet       string  `json:"snippet,omitempty"`
}

// Response is the result of a search.
type Response struct {
	Query      string `json:"query"`
	Mode       Mode   `json:"mode"`
	Hits       []Hit  `json:"hits"`
	Suggestion string `json:"suggestion,omitempty"`
	QueryTime  int64  `json:"query_time_ms"`
}

// Retriever finds the stored chunks nearest to a query.
type Retriever interface {
	Similar(ctx context.Context, query string, limit int) ([]storage.ScoredChunk, error)
}

// SourceReader loads sources for titles and snippets.
type SourceReader interface {
	GetSource(ctx context.Context, id string) (*models.Source, error)
}

// Engine runs searches against the keyword index and the chunk store.
type Engine struct {
	sources   SourceReader
	retriever Retriever
	index     keyword.Index
	suggester *keyword.Suggester
	cfg       config.SearchConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeywordIndex enables keyword and hybrid search. suggester may be nil.
func WithKeywordIndex(idx keyword.Index, suggester *keyword.Suggester) Option {
	return func(e *Engine) {
		e.index = idx
		e.suggester = suggester
	}
}

// WithRetriever enables semantic and hybrid search.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// NewEngine creates a search engine. Missing limits fall back to 10 and 100.
func NewEngine(sources SourceReader, cfg config.SearchConfig, opts ...Option) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	e := &Engine{sources: sources, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// normalize validates q and applies defaults.
func (e *Engine) normalize(q *Query) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return models.NewInvalidInput("query is required")
	}
	switch q.Mode {
	case "":
		q.Mode = ModeKeyword
	case ModeKeyword, ModeSemantic, ModeHybrid:
	default:
		return models.NewInvalidInput(fmt.Sprintf("unknown search mode %q", q.Mode))
	}
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}
	if q.Limit > e.cfg.MaxLimit {
		q.Limit = e.cfg.MaxLimit
	}
	if q.TitleBoost == 0 {
		q.TitleBoost = e.cfg.KeywordTitleBoost
	}
	if (q.Mode != ModeSemantic) && e.index == nil {
		return models.NewInvalidInput("keyword search is not enabled")
	}
	if (q.Mode != ModeKeyword) && e.retriever == nil {
		return models.NewInvalidInput("semantic search is not enabled")
	}
	return nil
}

// Search runs q and returns source-level hits. A keyword query with no hits carries a
// spelling suggestion when one is available.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	if err := e.normalize(&q); err != nil {
		return nil, err
	}

	candidates := q.Limit
	if q.Mode == ModeHybrid && e.cfg.TopKCandidates > candidates {
		candidates = e.cfg.TopKCandidates
	}

	var (
		keywordHits []keyword.Hit
		chunks      []storage.ScoredChunk
	)
	g, gctx := errgroup.WithContext(ctx)
	if q.Mode != ModeSemantic {
		g.Go(func() error {
			hits, err := e.index.Search(gctx, q.Text, candidates, &keyword.SearchOptions{TitleBoost: q.TitleBoost, Fuzziness: q.Fuzziness})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordHits = hits
			return nil
		})
	}
	if q.Mode != ModeKeyword {
		g.Go(func() error {
			// Several chunks can share a source, so fetch extra before aggregating.
			res, err := e.retriever.Similar(gctx, q.Text, candidates*3)
			if err != nil {
				return fmt.Errorf("semantic search failed: %w", err)
			}
			chunks = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keywordWeight, semanticWeight := 1.0, 0.0
	switch q.Mode {
	case ModeSemantic:
		keywordWeight, semanticWeight = 0, 1
	case ModeHybrid:
		keywordWeight, semanticWeight = e.cfg.KeywordWeight, e.cfg.SemanticWeight
	}

	keywordScores := make(map[string]float64, len(keywordHits))
	if q.Mode == ModeHybrid {
		keywordScores = NormalizeKeywordScores(keywordHits)
	} else {
		for _, h := range keywordHits {
			keywordScores[h.ID] = h.Score
		}
	}
	semanticScores, bestChunk := AggregateSemanticBySource(chunks)
	fused := Fuse(keywordScores, semanticScores, keywordWeight, semanticWeight)
	if len(fused) > q.Limit {
		fused = fused[:q.Limit]
	}

	resp := &Response{Query: q.Text, Mode: q.Mode, Hits: make([]Hit, 0, len(fused))}
	for _, f := range fused {
		hit := Hit{SourceID: f.SourceID, Score: f.Score, KeywordScore: f.KeywordScore, SemanticScore: f.SemanticScore}
		src, err := e.sources.GetSource(ctx, f.SourceID)
		if err != nil {
			// The index can briefly lag a delete.
			continue
		}
		hit.Title = src.Title
		if chunk, ok := bestChunk[f.SourceID]; ok {
			hit.Snippet = utils.Snippet(chunk, snippetLen)
		} else {
			hit.Snippet = utils.Snippet(src.FullText, snippetLen)
		}
		resp.Hits = append(resp.Hits, hit)
	}

	if len(resp.Hits) == 0 && q.Mode != ModeSemantic && e.suggester != nil {
		if s, ok := e.suggester.Suggest(q.Text); ok {
			resp.Suggestion = s
		}
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}
