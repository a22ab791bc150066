package memory

import (
	"fmt"
	"math"
)

// CosineSimilarity computes the cosine similarity between two vectors:
// dot(a,b) / (|a|*|b|), in [-1, 1]. A zero vector on either side yields 0.0.
//
// Mismatched lengths indicate a write-time dimension bug and panic rather
// than returning a silently coerced score. Callers guarantee dimension
// consistency; stores enforce it at insert.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("memory: cosine similarity dimension mismatch: %d vs %d", len(a), len(b)))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
