package vector

import (
	"sort"

	"github.com/hyperjump/shiru/pkg/utils"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
// Vectors of different length score 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return utils.Dot(a, b)
}

type hit struct {
	pos   int
	id    int64
	score float64
}

// rank orders hits by score descending, breaking ties by ascending chunk id.
func rank(hits []hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
}
