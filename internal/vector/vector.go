// Package vector defines the similarity-search capability used by the query
// pipeline, with an in-memory brute-force implementation and a MySQL-backed
// one that scores stored chunk embeddings.
package vector

import "context"

// Scope restricts a search to one document or to a user's whole corpus
// (DocumentID zero).
type Scope struct {
	UserID     uint
	DocumentID uint
}

// Result is one ranked hit. Higher scores are more similar.
type Result struct {
	ChunkID uint
	Score   float64
}

// Index stores chunk embeddings and answers k-nearest-neighbor queries.
// Search results are deterministic: equal scores are ordered by chunk
// insertion order, earlier first.
type Index interface {
	Upsert(ctx context.Context, scope Scope, chunkID uint, vec []float32) error
	Search(ctx context.Context, scope Scope, query []float32, k int) ([]Result, error)
}

// Cosine returns the cosine similarity of a and b, zero when either has no
// magnitude or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	t := x
	for i := 0; i < 32; i++ {
		next := 0.5 * (t + x/t)
		if next == t {
			break
		}
		t = next
	}
	return t
}
