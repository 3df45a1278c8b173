// Package cli provides output helpers for the kura command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteIngestResult writes an ingestion result to w in the given format.
func WriteIngestResult(w io.Writer, resp *server.IngestResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	src := resp.Source
	fmt.Fprintf(w, "Ingested %s\n", src.ID)
	if src.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", src.Title)
	}
	if src.Asset.URL != "" {
		fmt.Fprintf(w, "URL: %s\n", src.Asset.URL)
	}
	fmt.Fprintf(w, "Text: %d characters\n", len([]rune(src.FullText)))
	if resp.Chunks > 0 {
		fmt.Fprintf(w, "Embedded chunks: %d\n", resp.Chunks)
	}
	if resp.EmbedError != "" {
		fmt.Fprintf(w, "Embedding failed: %s\n", resp.EmbedError)
	}
	for _, in := range resp.Insights {
		writeInsight(w, in)
	}
	for _, f := range resp.Failed {
		fmt.Fprintf(w, "! %s failed: %s\n", f.Title, f.Error)
	}
	return nil
}

// WriteSource writes a stored source and its insights.
func WriteSource(w io.Writer, src *models.Source, insights []*models.Insight, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"source": src, "insights": insights})
	}
	fmt.Fprintf(w, "ID: %s\n", src.ID)
	if src.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", src.Title)
	}
	if src.Asset.FilePath != "" {
		fmt.Fprintf(w, "File: %s\n", src.Asset.FilePath)
	}
	if src.Asset.URL != "" {
		fmt.Fprintf(w, "URL: %s\n", src.Asset.URL)
	}
	if len(src.Topics) > 0 {
		fmt.Fprintf(w, "Topics: %s\n", strings.Join(src.Topics, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(src.FullText, 500))
	for _, in := range insights {
		writeInsight(w, in)
	}
	return nil
}

func writeInsight(w io.Writer, in *models.Insight) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "[%s]\n%s\n", in.Type, in.Content)
}

// WriteSearchResults writes search hits to w in the given format.
func WriteSearchResults(w io.Writer, out *search.Response, format OutputFormat) error {
	if format == OutputJSON {
		if out.Hits == nil {
			out.Hits = []search.Hit{}
		}
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "\nFound %d %s results for %q in %dms\n\n", len(out.Hits), out.Mode, out.Query, out.QueryTime)
	for i, h := range out.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		if out.Mode == search.ModeHybrid {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n", i+1, h.Score, h.KeywordScore, h.SemanticScore)
		} else {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, h.Score)
		}
		fmt.Fprintf(w, "ID: %s\n", h.SourceID)
		if h.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", h.Title)
		}
		if h.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", h.Snippet)
		}
		fmt.Fprintln(w)
	}
	if len(out.Hits) == 0 && out.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n", out.Suggestion)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
