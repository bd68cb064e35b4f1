package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hitsFromIDs(ids ...string) []Hit {
	out := make([]Hit, len(ids))
	for i, id := range ids {
		out[i] = NewHit(id, "", nil, float64(len(ids)-i))
	}
	return out
}

func TestFuseSingleList(t *testing.T) {
	fusion := NewFusion()
	fused := fusion.Fuse(hitsFromIDs("a", "b", "c"))

	require.Len(t, fused, 3)
	assert.Equal(t, "a", fused[0].ID())
	assert.InDelta(t, 1.0/60.0, fused[0].Score(), 1e-12)
	assert.Equal(t, "b", fused[1].ID())
	assert.Equal(t, "c", fused[2].ID())
}

func TestFuseCombinesLists(t *testing.T) {
	fusion := NewFusion()
	fused := fusion.Fuse(
		hitsFromIDs("a", "b"),
		hitsFromIDs("b", "a"),
	)

	require.Len(t, fused, 2)
	// Both appear at ranks 0 and 1, so they tie; order falls back to ID.
	assert.InDelta(t, fused[0].Score(), fused[1].Score(), 1e-12)
	assert.Equal(t, "a", fused[0].ID())
}

// A document ranked earlier in both lists must never score below one ranked
// later in both.
func TestFuseMonotonicity(t *testing.T) {
	fusion := NewFusion()
	fused := fusion.Fuse(
		hitsFromIDs("early", "mid", "late"),
		hitsFromIDs("early", "late", "mid"),
	)

	scores := map[string]float64{}
	for _, h := range fused {
		scores[h.ID()] = h.Score()
	}
	assert.Greater(t, scores["early"], scores["mid"])
	assert.Greater(t, scores["early"], scores["late"])
}

func TestFuseKeepsFirstSeenMetadata(t *testing.T) {
	fusion := NewFusion()
	withText := NewHit("x", "first body", nil, 1.0)
	withoutText := NewHit("x", "", nil, 0.5)

	fused := fusion.Fuse([]Hit{withText}, []Hit{withoutText})
	require.Len(t, fused, 1)
	assert.Equal(t, "first body", fused[0].Text())
}

func TestFuseTopK(t *testing.T) {
	fusion := NewFusion()
	fused := fusion.FuseTopK(2, hitsFromIDs("a", "b", "c", "d"))
	assert.Len(t, fused, 2)

	fused = fusion.FuseTopK(0, hitsFromIDs("a", "b"))
	assert.Len(t, fused, 2)
}

func TestFuseEmpty(t *testing.T) {
	assert.Empty(t, NewFusion().Fuse())
	assert.Empty(t, NewFusion().Fuse([]Hit{}))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Zero(t, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestTopKSimilar(t *testing.T) {
	vectors := []Vector{
		NewVector("orthogonal", []float64{0, 1}),
		NewVector("aligned", []float64{1, 0.01}),
		NewVector("opposite", []float64{-1, 0}),
	}

	hits := TopKSimilar([]float64{1, 0}, vectors, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "aligned", hits[0].ID())
	assert.Equal(t, "orthogonal", hits[1].ID())
}
