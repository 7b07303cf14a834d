package search

import (
	"testing"

	"github.com/hyperjump/shiru/internal/keyword"
	"github.com/hyperjump/shiru/internal/models"
)

func TestNormalizeKeywordScores(t *testing.T) {
	results := []*keyword.KeywordResult{
		{ID: 1, Score: 2},
		{ID: 2, Score: 4},
		{ID: 3, Score: 1},
	}
	m := NormalizeKeywordScores(results)
	if m[2] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m[2])
	}
	if m[1] != 0.5 {
		t.Errorf("1 should be 0.5, got %f", m[1])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
}

func TestVectorScores(t *testing.T) {
	results := []*models.SearchResult{
		{Chunk: models.Chunk{ID: 7}, Score: 0.9},
		{Chunk: models.Chunk{ID: 8}, Score: 0.5},
	}
	m := VectorScores(results)
	if m[7] != 0.9 || m[8] != 0.5 {
		t.Errorf("unexpected map %v", m)
	}
}

func TestFuse(t *testing.T) {
	kw := map[int64]float64{1: 1.0, 2: 0.5}
	vec := map[int64]float64{1: 0.5, 2: 1.0, 3: 0.2}
	results := Fuse(kw, vec, 0.5, 0.5)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("results should be sorted by score descending")
		}
	}
	if results[2].ID != 3 || results[2].KeywordScore != 0 {
		t.Errorf("vector-only hit should rank last with no keyword score: %+v", results[2])
	}
}

func TestFuse_TiesByAscendingID(t *testing.T) {
	results := Fuse(map[int64]float64{9: 1, 4: 1, 6: 1}, nil, 1, 0)
	want := []int64{4, 6, 9}
	for i, r := range results {
		if r.ID != want[i] {
			t.Fatalf("order = %v, want %v", []int64{results[0].ID, results[1].ID, results[2].ID}, want)
		}
	}
}

func TestSnippet(t *testing.T) {
	if Snippet("short") != "short" {
		t.Error("short text should be unchanged")
	}
	long := make([]rune, SnippetLength+10)
	for i := range long {
		long[i] = 'é'
	}
	got := []rune(Snippet(string(long)))
	if len(got) != SnippetLength+3 {
		t.Errorf("snippet has %d runes", len(got))
	}
}
