package search

import (
	"math"
	"sort"

	"github.com/scottyroges/cortex/domain/document"
	domainsearch "github.com/scottyroges/cortex/domain/search"
)

// Okapi BM25 constants.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// IndexDoc is one document fed to an index build.
type IndexDoc struct {
	ID   string
	Text string
	Meta document.Metadata
}

// BM25Index is an immutable keyword index built from a document snapshot.
// A rebuild produces a fresh index; readers of the old one are unaffected.
type BM25Index struct {
	docs    []IndexDoc
	docTF   []map[string]int
	docLen  []int
	docFreq map[string]int
	avgLen  float64
}

// NewBM25Index tokenizes every document and builds the term statistics.
func NewBM25Index(docs []IndexDoc) *BM25Index {
	idx := &BM25Index{
		docs:    docs,
		docTF:   make([]map[string]int, len(docs)),
		docLen:  make([]int, len(docs)),
		docFreq: map[string]int{},
	}

	totalLen := 0
	for i, d := range docs {
		tokens := Tokenize(d.Text)
		idx.docLen[i] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		idx.docTF[i] = tf
		for t := range tf {
			idx.docFreq[t]++
		}
	}
	if len(docs) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(docs))
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int { return len(idx.docs) }

// Search scores every document against the query terms and returns the topK
// positive-scoring documents descending. An empty index or a query with no
// recognizable tokens yields no results.
func (idx *BM25Index) Search(query string, topK int) []domainsearch.Hit {
	if len(idx.docs) == 0 || topK <= 0 {
		return []domainsearch.Hit{}
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return []domainsearch.Hit{}
	}

	n := float64(len(idx.docs))
	var hits []domainsearch.Hit
	for i, d := range idx.docs {
		docLen := idx.docLen[i]
		if docLen == 0 {
			continue
		}
		tf := idx.docTF[i]

		score := 0.0
		for _, q := range queryTokens {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			df := float64(idx.docFreq[q])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*float64(docLen)/idx.avgLen))
			score += idf * norm
		}
		if score > 0 {
			hits = append(hits, domainsearch.NewHit(d.ID, d.Text, d.Meta, score))
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score() != hits[b].Score() {
			return hits[a].Score() > hits[b].Score()
		}
		return hits[a].ID() < hits[b].ID()
	})
	if topK < len(hits) {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []domainsearch.Hit{}
	}
	return hits
}
