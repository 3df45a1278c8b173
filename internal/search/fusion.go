package search

import (
	"sort"

	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/storage"
)

// FusedResult holds a source ID and fused keyword/semantic scores.
type FusedResult struct {
	SourceID      string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(hits []keyword.Hit) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	var maxScore float64
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		if maxScore > 0 {
			normalized[h.ID] = h.Score / maxScore
		} else {
			normalized[h.ID] = 0
		}
	}
	return normalized
}

// AggregateSemanticBySource keeps the best-scoring chunk of every source. Cosine scores are
// already in [-1,1] and are used as-is.
func AggregateSemanticBySource(chunks []storage.ScoredChunk) (scores map[string]float64, best map[string]string) {
	scores = make(map[string]float64)
	best = make(map[string]string)
	for _, c := range chunks {
		id := c.Chunk.SourceID
		if s, ok := scores[id]; !ok || c.Score > s {
			scores[id] = c.Score
			best[id] = c.Chunk.Content
		}
	}
	return scores, best
}

// Fuse merges keyword and semantic score maps with weights and returns results sorted by
// score, ties broken by source ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult)
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{SourceID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{SourceID: id, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SourceID < results[j].SourceID
	})
	return results
}
