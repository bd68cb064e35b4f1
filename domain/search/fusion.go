package search

import "sort"

// DefaultRRFK is the conventional reciprocal-rank-fusion constant.
const DefaultRRFK = 60.0

// Fusion combines ranked lists from multiple retrieval methods using
// Reciprocal Rank Fusion.
type Fusion struct {
	k float64
}

// NewFusion creates a Fusion with the default RRF constant.
func NewFusion() Fusion {
	return Fusion{k: DefaultRRFK}
}

// NewFusionWithK creates a Fusion with a custom RRF constant.
func NewFusionWithK(k float64) Fusion {
	if k <= 0 {
		k = DefaultRRFK
	}
	return Fusion{k: k}
}

// K returns the RRF constant.
func (f Fusion) K() float64 { return f.k }

// Fuse combines ranked hit lists. Each document's fused score is the sum of
// 1/(k+rank) over every list it appears in; rank is zero-based position.
// Duplicates are collapsed to a single hit keeping the first-seen text and
// metadata. The result is sorted by fused score descending, ties broken by
// document ID for determinism.
func (f Fusion) Fuse(lists ...[]Hit) []Hit {
	if len(lists) == 0 {
		return []Hit{}
	}

	scores := make(map[string]float64)
	firstSeen := make(map[string]Hit)

	for _, list := range lists {
		for rank, hit := range list {
			id := hit.ID()
			scores[id] += 1.0 / (f.k + float64(rank))
			if _, ok := firstSeen[id]; !ok {
				firstSeen[id] = hit
			}
		}
	}

	fused := make([]Hit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, firstSeen[id].WithScore(score))
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score() != fused[j].Score() {
			return fused[i].Score() > fused[j].Score()
		}
		return fused[i].ID() < fused[j].ID()
	})

	return fused
}

// FuseTopK fuses and truncates to the top K hits.
func (f Fusion) FuseTopK(topK int, lists ...[]Hit) []Hit {
	fused := f.Fuse(lists...)
	if topK <= 0 || topK >= len(fused) {
		return fused
	}
	return fused[:topK]
}

// SortByScore re-sorts hits descending by their current score, ties broken by
// ID. The pipeline calls this after every score-adjusting phase.
func SortByScore(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score() != hits[j].Score() {
			return hits[i].Score() > hits[j].Score()
		}
		return hits[i].ID() < hits[j].ID()
	})
}
