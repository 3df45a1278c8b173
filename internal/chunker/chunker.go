// Package chunker splits long text into ordered, overlapping, token-bounded segments.
package chunker

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/hyperjump/kura/internal/models"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

// DefaultEncoding is the tokenizer used to measure chunk length.
const DefaultEncoding = "cl100k_base"

// Separators in split-preference order: paragraph, line, sentence end, comma, space, character.
var Separators = []string{"\n\n", "\n", ". ", "! ", "? ", ", ", " ", ""}

// TokenCounter returns the length of s in model tokens.
type TokenCounter func(s string) int

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c7a4e-3f0b-4c55-9a51-2d0c1b9e7a10")

// Chunker splits text with a fixed size and overlap, both measured in tokens.
type Chunker struct {
	size     int
	overlap  int
	count    TokenCounter
	encoding string
	logger   *zap.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTokenCounter replaces the tiktoken counter.
func WithTokenCounter(f TokenCounter) Option {
	return func(c *Chunker) { c.count = f }
}

// WithEncoding selects the tiktoken encoding. Ignored when WithTokenCounter is set.
func WithEncoding(name string) Option {
	return func(c *Chunker) {
		if name != "" {
			c.encoding = name
		}
	}
}

// WithLogger sets a logger for splitter failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chunker) { c.logger = l }
}

// New returns a chunker producing chunks of at most size tokens that share overlap tokens
// with their predecessor. overlap is clamped to [0, size). An unknown encoding is an error.
func New(size, overlap int, opts ...Option) (*Chunker, error) {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	c := &Chunker{size: size, overlap: overlap, encoding: DefaultEncoding, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.count == nil {
		counter, err := sharedCounter(c.encoding)
		if err != nil {
			return nil, err
		}
		c.count = counter
	}
	return c, nil
}

// Size returns the configured chunk size in tokens.
func (c *Chunker) Size() int { return c.size }

// Count returns the token length of s.
func (c *Chunker) Count(s string) int { return c.count(s) }

// OverlapRatio returns the overlap for a chunk size as a fraction of it, e.g. 15%.
func OverlapRatio(size int, ratio float64) int {
	if ratio <= 0 || size <= 0 {
		return 0
	}
	return int(float64(size) * ratio)
}

// Chunk splits text. The result is a pure function of text, size and overlap. Text that fits
// in one chunk is returned whole; blank text yields nil.
func (c *Chunker) Chunk(text string) []string {
	text = Preprocess(text)
	if text == "" {
		return nil
	}
	if c.count(text) <= c.size {
		return []string{text}
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.size),
		textsplitter.WithChunkOverlap(c.overlap),
		textsplitter.WithSeparators(Separators),
		textsplitter.WithLenFunc(c.count),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		// The recursive splitter only fails on invalid options, which New rules out.
		c.logger.Warn("text splitter failed, returning whole text", zap.Error(err))
		return []string{text}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkSource splits a source's full text into embedding chunks with stable ids.
func (c *Chunker) ChunkSource(sourceID, text string) []*models.EmbeddingChunk {
	parts := c.Chunk(text)
	if len(parts) == 0 {
		return nil
	}
	chunks := make([]*models.EmbeddingChunk, 0, len(parts))
	for i, p := range parts {
		id := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d", sourceID, i)))
		chunks = append(chunks, &models.EmbeddingChunk{
			ID:         fmt.Sprintf("%s_%s", sourceID, id.String()[:8]),
			SourceID:   sourceID,
			Position:   i,
			Content:    p,
			TokenCount: c.count(p),
		})
	}
	return chunks
}

// Preprocess trims text and collapses runs of horizontal whitespace, keeping line structure
// so the splitter can still prefer paragraph and line breaks.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if r != '\n' && unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return b.String()
}

func init() {
	// Encodings are read from the vocabularies compiled into the binary, never downloaded,
	// so token counts do not depend on network access.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	countersMu sync.Mutex
	counters   = map[string]TokenCounter{}
)

// sharedCounter loads a tiktoken encoding once per process.
func sharedCounter(encoding string) (TokenCounter, error) {
	countersMu.Lock()
	defer countersMu.Unlock()
	if c, ok := counters[encoding]; ok {
		return c, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %q: %w", encoding, err)
	}
	counter := func(s string) int { return len(enc.Encode(s, nil, nil)) }
	counters[encoding] = counter
	return counter, nil
}

// Words counts whitespace-separated words. Useful as a deterministic counter in tests.
func Words(s string) int {
	return len(strings.Fields(s))
}
