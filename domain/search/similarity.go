package search

import (
	"math"
	"sort"
)

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude inputs.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Vector pairs a document ID with its stored embedding.
type Vector struct {
	id        string
	embedding []float64
}

// NewVector creates a Vector. The embedding is copied.
func NewVector(id string, embedding []float64) Vector {
	cp := make([]float64, len(embedding))
	copy(cp, embedding)
	return Vector{id: id, embedding: cp}
}

// ID returns the document identifier.
func (v Vector) ID() string { return v.id }

// Embedding returns the stored vector. Callers must not mutate it.
func (v Vector) Embedding() []float64 { return v.embedding }

// TopKSimilar returns the k vectors most similar to query by cosine
// similarity, sorted descending.
func TopKSimilar(query []float64, vectors []Vector, k int) []Hit {
	if len(vectors) == 0 || k <= 0 {
		return []Hit{}
	}

	hits := make([]Hit, 0, len(vectors))
	for _, v := range vectors {
		hits = append(hits, NewHit(v.id, "", nil, CosineSimilarity(query, v.embedding)))
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score() != hits[j].Score() {
			return hits[i].Score() > hits[j].Score()
		}
		return hits[i].ID() < hits[j].ID()
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}
