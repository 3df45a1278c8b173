package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longText() string {
	var paras []string
	for p := 0; p < 6; p++ {
		var sentences []string
		for s := 0; s < 5; s++ {
			sentences = append(sentences, fmt.Sprintf("Paragraph %d sentence %d talks about channels, goroutines and select.", p, s))
		}
		paras = append(paras, strings.Join(sentences, " "))
	}
	return strings.Join(paras, "\n\n")
}

func newWordChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap, WithTokenCounter(Words))
	require.NoError(t, err)
	return c
}

func TestChunk_deterministic(t *testing.T) {
	c := newWordChunker(t, 40, 6)
	text := longText()
	first := c.Chunk(text)
	second := c.Chunk(text)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)

	other := newWordChunker(t, 40, 6)
	assert.Equal(t, first, other.Chunk(text), "a fresh chunker must produce the same sequence")
}

func TestChunk_boundedAndCovering(t *testing.T) {
	c := newWordChunker(t, 30, 5)
	text := longText()
	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.LessOrEqual(t, Words(ch), 30, "chunk %d too long", i)
	}

	// Every word of the input appears in order when walking the chunks; overlap only repeats
	// words. Punctuation is ignored because split separators are dropped at chunk edges.
	clean := func(w string) string { return strings.Trim(w, ".,!?") }
	words := strings.Fields(text)
	pos := 0
	for _, ch := range chunks {
		for _, w := range strings.Fields(ch) {
			if pos < len(words) && clean(words[pos]) == clean(w) {
				pos++
			}
		}
	}
	assert.Equal(t, len(words), pos, "chunks do not cover the input")
}

func TestChunk_prefersParagraphBreaks(t *testing.T) {
	c := newWordChunker(t, 7, 0)
	text := "one two three four five six.\n\nseven eight nine ten eleven twelve.\n\nthirteen fourteen"
	chunks := c.Chunk(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "one two three four five six.", chunks[0])
	assert.Equal(t, "seven eight nine ten eleven twelve.", chunks[1])
	assert.Equal(t, "thirteen fourteen", chunks[2])
}

func TestChunk_shortAndEmpty(t *testing.T) {
	c := newWordChunker(t, 100, 10)
	assert.Equal(t, []string{"short text"}, c.Chunk("  short   text "))
	assert.Nil(t, c.Chunk("   \n\t  "))
}

func TestChunkSource(t *testing.T) {
	c := newWordChunker(t, 30, 5)
	chunks := c.ChunkSource("src1", longText())
	require.Greater(t, len(chunks), 1)
	again := c.ChunkSource("src1", longText())
	for i, ch := range chunks {
		assert.Equal(t, "src1", ch.SourceID)
		assert.Equal(t, i, ch.Position)
		assert.NotEmpty(t, ch.ID)
		assert.Equal(t, Words(ch.Content), ch.TokenCount)
		assert.Equal(t, again[i].ID, ch.ID, "ids must be stable")
	}
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
	assert.Nil(t, c.ChunkSource("src1", ""))
}

func TestNew_clampsOverlap(t *testing.T) {
	c := newWordChunker(t, 10, 50)
	assert.Equal(t, 9, c.overlap)
	c = newWordChunker(t, 0, -1)
	assert.Equal(t, 1000, c.Size())
	assert.Equal(t, 0, c.overlap)
}

func TestOverlapRatio(t *testing.T) {
	assert.Equal(t, 1200, OverlapRatio(8000, 0.15))
	assert.Equal(t, 0, OverlapRatio(8000, 0))
	assert.Equal(t, 0, OverlapRatio(0, 0.15))
}

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "a b\n\nc d", Preprocess("  a \t b\n\nc    d  "))
}

func TestNew_tiktokenOffline(t *testing.T) {
	c, err := New(50, 5)
	require.NoError(t, err)
	text := "The quick brown fox jumps over the lazy dog."
	// One token per word plus the period; a four-characters-per-token estimate gives 11.
	assert.Equal(t, 10, c.Count(text))

	again, err := New(50, 5, WithEncoding(DefaultEncoding))
	require.NoError(t, err)
	assert.Equal(t, c.Count(text), again.Count(text))
}

func TestNew_unknownEncoding(t *testing.T) {
	_, err := New(50, 5, WithEncoding("no_such_encoding"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_encoding")
}
