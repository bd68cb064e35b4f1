package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/document"
)

// stubEmbedder maps the first byte of each text onto a unit axis so tests
// get deterministic, distinguishable vectors.
type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	s.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, 4)
		if len(t) > 0 {
			v[int(t[0])%4] = 1
		}
		out[i] = v
	}
	return out, nil
}

func newTestStore(t *testing.T) (*DocumentStore, *stubEmbedder) {
	t.Helper()
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	emb := &stubEmbedder{}
	return NewDocumentStore(db, emb, nil), emb
}

func TestDocumentStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store, emb := newTestStore(t)

	docs := []document.Document{
		document.New("a", "alpha", document.Metadata{document.MetaType: "note", document.MetaRepository: "proj"}),
		document.New("b", "bravo", document.Metadata{document.MetaType: "insight", document.MetaRepository: "proj"}),
	}
	require.NoError(t, store.Upsert(ctx, docs))
	assert.Equal(t, 1, emb.calls, "missing embeddings should be batched into one call")

	got, err := store.Get(ctx, []string{"a"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].Text())
	assert.NotEmpty(t, got[0].Embedding())
}

func TestDocumentStoreUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, []document.Document{
		document.New("a", "first", document.Metadata{document.MetaType: "note"}),
	}))
	require.NoError(t, store.Upsert(ctx, []document.Document{
		document.New("a", "second", document.Metadata{document.MetaType: "insight"}),
	}))

	got, err := store.Get(ctx, []string{"a"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text())
	assert.Equal(t, document.KindInsight, got[0].Metadata().Kind())

	n, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDocumentStoreGetWithFilter(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, []document.Document{
		document.New("a", "alpha", document.Metadata{document.MetaType: "note", document.MetaRepository: "one"}),
		document.New("b", "bravo", document.Metadata{document.MetaType: "note", document.MetaRepository: "two"}),
		document.New("c", "charlie", document.Metadata{document.MetaType: "insight", document.MetaRepository: "one"}),
	}))

	got, err := store.Get(ctx, nil, document.And(
		document.Eq(document.MetaRepository, "one"),
		document.Eq(document.MetaType, "note"),
	))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID())
}

func TestDocumentStoreQueryRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, []document.Document{
		document.NewWithEmbedding("x", "x doc", document.Metadata{document.MetaType: "code"}, []float64{1, 0, 0, 0}),
		document.NewWithEmbedding("y", "y doc", document.Metadata{document.MetaType: "code"}, []float64{0, 1, 0, 0}),
		document.NewWithEmbedding("z", "z doc", document.Metadata{document.MetaType: "note"}, []float64{0.9, 0.1, 0, 0}),
	}))

	hits, err := store.QueryByVector(ctx, []float64{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ID())
	assert.Equal(t, "z", hits[1].ID())

	// Filter restricts candidates before ranking.
	hits, err = store.QueryByVector(ctx, []float64{1, 0, 0, 0}, 2, document.Eq(document.MetaType, "note"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "z", hits[0].ID())
}

func TestDocumentStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, []document.Document{
		document.New("a", "alpha", document.Metadata{document.MetaType: "note"}),
		document.New("b", "bravo", document.Metadata{document.MetaType: "insight"}),
		document.New("c", "charlie", document.Metadata{document.MetaType: "insight"}),
	}))

	n, err := store.Delete(ctx, nil, document.Eq(document.MetaType, "insight"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Delete(ctx, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "delete with no ids and no filter must be a no-op")

	remaining, err := store.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}
