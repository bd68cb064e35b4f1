// Package search provides the retrieval domain: ranked hits, reciprocal-rank
// fusion, cosine similarity, and the embedder/reranker contracts consumed by
// the pipeline.
package search

import (
	"context"

	"github.com/scottyroges/cortex/domain/document"
)

// Embedder produces dense vectors comparable between corpus and queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Reranker scores query/document pairs with a cross-encoder. Input metadata
// is preserved on the returned hits; an empty input yields an empty output.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []Hit, topK int) ([]Hit, error)
}

// Hit is one ranked retrieval result.
type Hit struct {
	id    string
	text  string
	meta  document.Metadata
	score float64
}

// NewHit creates a Hit.
func NewHit(id, text string, meta document.Metadata, score float64) Hit {
	return Hit{id: id, text: text, meta: meta, score: score}
}

// ID returns the document identifier.
func (h Hit) ID() string { return h.id }

// Text returns the document body.
func (h Hit) Text() string { return h.text }

// Metadata returns the document metadata.
func (h Hit) Metadata() document.Metadata { return h.meta }

// Score returns the current ranking score.
func (h Hit) Score() float64 { return h.score }

// WithScore returns a copy of the hit carrying the given score.
func (h Hit) WithScore(score float64) Hit {
	h.score = score
	return h
}
