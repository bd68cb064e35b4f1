package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/infrastructure/persistence"
)

func newOrientFixture(t *testing.T, git *stubVCS) (*memStore, *persistence.DeltaState, *OrientService) {
	t.Helper()
	store := newMemStore()
	delta, err := persistence.LoadDeltaState(filepath.Join(t.TempDir(), "state.json"), testLogger())
	require.NoError(t, err)
	initiatives := NewInitiativeService(store, NewIndexManager(store, testLogger()), testLogger())
	return store, delta, NewOrientService(store, delta, git, initiatives, testLogger())
}

func TestOrientUnindexedRepository(t *testing.T) {
	_, _, svc := newOrientFixture(t, &stubVCS{})

	resp := svc.Orient(context.Background(), "/work/checkouts/api")
	assert.Equal(t, "api", resp.Repository)
	assert.False(t, resp.Indexed)
	assert.False(t, resp.NeedsReindex)
	assert.Empty(t, resp.Error)
}

func TestOrientIndexedAndCurrent(t *testing.T) {
	git := &stubVCS{isRepo: true, branch: "main", tracked: 2}
	_, delta, svc := newOrientFixture(t, git)
	require.NoError(t, delta.SetRepo("api", persistence.RepoState{
		Repository: "api",
		Branch:     "main",
		IndexedAt:  stamp(0),
		FileHashes: map[string]string{"/r/a.go": "h1", "/r/b.go": "h2"},
	}))

	resp := svc.Orient(context.Background(), "/work/checkouts/api")
	assert.True(t, resp.Indexed)
	assert.Equal(t, 2, resp.FileCount)
	assert.False(t, resp.NeedsReindex)
}

func TestOrientDetectsReindexReasons(t *testing.T) {
	git := &stubVCS{isRepo: true, branch: "feature/x", commits: 4, tracked: 50}
	_, delta, svc := newOrientFixture(t, git)
	require.NoError(t, delta.SetRepo("api", persistence.RepoState{
		Repository: "api",
		Branch:     "main",
		IndexedAt:  stamp(3),
		FileHashes: map[string]string{"/r/a.go": "h1"},
	}))

	resp := svc.Orient(context.Background(), "/work/checkouts/api")
	assert.True(t, resp.NeedsReindex)
	assert.Contains(t, resp.ReindexReason, "Branch changed")
	assert.Contains(t, resp.ReindexReason, "new commit")
	assert.Contains(t, resp.ReindexReason, "tracked file count")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"reindex_reason"`)
}

func TestOrientAttachesContextDocuments(t *testing.T) {
	git := &stubVCS{isRepo: true, branch: "main"}
	store, _, svc := newOrientFixture(t, git)

	seedDoc(t, store, SkeletonID("api", "main"), "cmd/\ninternal/\n", document.Metadata{
		document.MetaType:       string(document.KindSkeleton),
		document.MetaRepository: "api",
		document.MetaBranch:     "main",
	})
	seedDoc(t, store, TechStackID("api"), "Go 1.25, chi", document.Metadata{
		document.MetaType:       string(document.KindTechStack),
		document.MetaRepository: "api",
	})

	resp := svc.Orient(context.Background(), "/work/checkouts/api")
	assert.Contains(t, resp.Skeleton, "cmd/")
	assert.Contains(t, resp.TechStack, "chi")
}

func TestOrientSurfacesStaleFocusedInitiative(t *testing.T) {
	store, _, svc := newOrientFixture(t, &stubVCS{})
	initiatives := NewInitiativeService(store, NewIndexManager(store, testLogger()), testLogger())
	created, err := initiatives.Create(context.Background(), "api", "Auth Refactoring", "", true)
	require.NoError(t, err)

	// Age the initiative past the staleness threshold.
	docs, err := store.Get(context.Background(), []string{created.ID}, nil)
	require.NoError(t, err)
	meta := docs[0].Metadata().Clone()
	meta[document.MetaUpdatedAt] = stamp(10)
	require.NoError(t, store.Upsert(context.Background(), []document.Document{
		document.New(created.ID, docs[0].Text(), meta),
	}))

	resp := svc.Orient(context.Background(), "/work/checkouts/api")
	require.NotNil(t, resp.FocusedInitiative)
	assert.True(t, resp.FocusedInitiative.Stale)
	assert.Contains(t, resp.StalePrompt, "Auth Refactoring")
	assert.Len(t, resp.ActiveInitiatives, 1)
}

func TestOrientRecentWork(t *testing.T) {
	store, _, svc := newOrientFixture(t, &stubVCS{})
	for i := 0; i < 8; i++ {
		seedDoc(t, store, newID(document.KindNote), "recent note", document.Metadata{
			document.MetaType:       string(document.KindNote),
			document.MetaRepository: "api",
			document.MetaCreatedAt:  stamp(1),
		})
	}
	seedDoc(t, store, "note:old00001", "ancient note", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(30),
	})

	resp := svc.Orient(context.Background(), "/work/checkouts/api")
	assert.Len(t, resp.RecentWork, recentWorkLimit)
	for _, item := range resp.RecentWork {
		assert.Equal(t, "recent note", item.Content)
	}
}
