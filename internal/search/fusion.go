// Package search provides hybrid search (keyword + vector) and result fusion.
package search

import (
	"sort"

	"github.com/hyperjump/shiru/internal/keyword"
	"github.com/hyperjump/shiru/internal/models"
)

// FusedResult holds a chunk id and its fused keyword/vector scores.
type FusedResult struct {
	ID           int64
	Score        float64
	KeywordScore float64
	VectorScore  float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[int64]float64 {
	if len(results) == 0 {
		return make(map[int64]float64)
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	normalized := make(map[int64]float64, len(results))
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// VectorScores maps chunk id to inner-product score. Unit vectors make it cosine similarity.
func VectorScores(results []*models.SearchResult) map[int64]float64 {
	scores := make(map[int64]float64, len(results))
	for _, r := range results {
		scores[r.Chunk.ID] = r.Score
	}
	return scores
}

// Fuse merges keyword and vector score maps with weights. Results are sorted by fused score
// descending, ties by ascending chunk id.
func Fuse(keywordScores, vectorScores map[int64]float64, keywordWeight, vectorWeight float64) []*FusedResult {
	scoreMap := make(map[int64]*FusedResult, len(keywordScores)+len(vectorScores))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{ID: id, KeywordScore: score}
	}
	for id, score := range vectorScores {
		if result, exists := scoreMap[id]; exists {
			result.VectorScore = score
		} else {
			scoreMap[id] = &FusedResult{ID: id, VectorScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (vectorWeight * result.VectorScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
