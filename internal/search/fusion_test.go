package search

import (
	"testing"

	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
)

func TestNormalizeKeywordScores(t *testing.T) {
	hits := []keyword.Hit{
		{ID: "a", Score: 2},
		{ID: "b", Score: 4},
		{ID: "c", Score: 1},
	}
	m := NormalizeKeywordScores(hits)
	if m["b"] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m["b"])
	}
	if m["a"] != 0.5 {
		t.Errorf("a should be 0.5, got %f", m["a"])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
	if len(NormalizeKeywordScores(nil)) != 0 {
		t.Error("nil hits should give an empty map")
	}
}

func TestAggregateSemanticBySource(t *testing.T) {
	chunks := []storage.ScoredChunk{
		{Chunk: &models.EmbeddingChunk{SourceID: "s1", Content: "first"}, Score: 0.3},
		{Chunk: &models.EmbeddingChunk{SourceID: "s1", Content: "second"}, Score: 0.8},
		{Chunk: &models.EmbeddingChunk{SourceID: "s2", Content: "third"}, Score: 0.5},
	}
	scores, best := AggregateSemanticBySource(chunks)
	if scores["s1"] != 0.8 || best["s1"] != "second" {
		t.Errorf("s1 = %f %q, want best chunk 0.8 second", scores["s1"], best["s1"])
	}
	if scores["s2"] != 0.5 {
		t.Errorf("s2 should be 0.5, got %f", scores["s2"])
	}
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"d1": 1.0, "d2": 0.5}
	sem := map[string]float64{"d1": 0.5, "d2": 1.0, "d3": 0.2}
	results := Fuse(kw, sem, 0.7, 0.3)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].SourceID != "d1" || results[2].SourceID != "d3" {
		t.Errorf("order = %s %s %s", results[0].SourceID, results[1].SourceID, results[2].SourceID)
	}
	if results[0].KeywordScore != 1.0 || results[0].SemanticScore != 0.5 {
		t.Errorf("component scores not kept: %+v", results[0])
	}

	tied := Fuse(map[string]float64{"b": 1, "a": 1}, nil, 1, 0)
	if tied[0].SourceID != "a" {
		t.Errorf("ties should break by id, got %s first", tied[0].SourceID)
	}
}
