package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kura/internal/models"
)

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is reused; remove
// the directory after changing the mapping to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex returns an index that lives only in memory.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so "bayes" matches "Bayes"
	// but not "Bayesian".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", text)
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("topics", text)
	im.AddDocumentMapping("source", docMapping)
	im.DefaultType = "source"
	im.DefaultMapping = docMapping
	return im
}

// IndexSource indexes src under its id, replacing any previous version.
func (b *BleveIndex) IndexSource(_ context.Context, src *models.Source) error {
	if err := b.index.Index(src.ID, NewDocument(src)); err != nil {
		return fmt.Errorf("failed to index source %s: %w", src.ID, err)
	}
	return nil
}

// Search runs query and returns up to limit hits. With a title boost above 1 the title and
// content fields are queried separately and their scores added, title first multiplied by
// the boost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	var o SearchOptions
	if opts != nil {
		o = *opts
	}
	if o.TitleBoost <= 1 {
		return b.run(ctx, b.buildQuery(query, o.Fuzziness, ""), limit, 1)
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	titleHits, err := b.run(ctx, b.buildQuery(query, o.Fuzziness, "title"), reqSize, o.TitleBoost)
	if err != nil {
		return nil, err
	}
	contentHits, err := b.run(ctx, b.buildQuery(query, o.Fuzziness, "content"), reqSize, 1)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(titleHits)+len(contentHits))
	for _, h := range titleHits {
		scores[h.ID] += h.Score
	}
	for _, h := range contentHits {
		scores[h.ID] += h.Score
	}
	merged := make([]Hit, 0, len(scores))
	for id, s := range scores {
		merged = append(merged, Hit{ID: id, Score: s})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int, boost float64) ([]Hit, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Hit, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = Hit{ID: hit.ID, Score: hit.Score * boost}
	}
	return out, nil
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when fuzziness is
// positive. An empty field searches all fields.
func (b *BleveIndex) buildQuery(query string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(query)
	if fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Delete removes a source from the index. Deleting an unknown id is not an error.
func (b *BleveIndex) Delete(_ context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the number of indexed sources.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// Terms returns every distinct term in the title and content fields.
func (b *BleveIndex) Terms() ([]string, error) {
	seen := make(map[string]struct{})
	var terms []string
	for _, field := range []string{"title", "content"} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s terms: %w", field, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if _, ok := seen[entry.Term]; !ok {
				seen[entry.Term] = struct{}{}
				terms = append(terms, entry.Term)
			}
		}
		_ = dict.Close()
	}
	return terms, nil
}

// TermFrequency returns the number of sources containing term.
func (b *BleveIndex) TermFrequency(term string) (int, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(term))
	req.Size = 0
	res, err := b.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("failed to count term %q: %w", term, err)
	}
	return int(res.Total), nil
}
