package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
)

func newInitiativeFixture() (*memStore, *InitiativeService) {
	store := newMemStore()
	return store, NewInitiativeService(store, NewIndexManager(store, testLogger()), testLogger())
}

func TestCreateInitiativeAutoFocuses(t *testing.T) {
	store, svc := newInitiativeFixture()

	resp, err := svc.Create(context.Background(), "api", "Auth Refactoring", "JWT", true)
	require.NoError(t, err)
	assert.True(t, resp.Focused)
	assert.Contains(t, resp.ID, "initiative:")

	focus, err := store.Get(context.Background(), []string{FocusID("api")}, nil)
	require.NoError(t, err)
	require.Len(t, focus, 1)
	assert.Equal(t, resp.ID, focus[0].Metadata().String(document.MetaInitiativeID))
	assert.NotEmpty(t, focus[0].Metadata().String(document.MetaCreatedAt))
	assert.NotEmpty(t, focus[0].Metadata().String(document.MetaUpdatedAt))
}

func TestCreateInitiativeValidation(t *testing.T) {
	_, svc := newInitiativeFixture()
	_, err := svc.Create(context.Background(), "", "name", "", false)
	require.Error(t, err)
	_, err = svc.Create(context.Background(), "api", "  ", "", false)
	require.Error(t, err)
}

func TestListCountsTaggedDocuments(t *testing.T) {
	store, svc := newInitiativeFixture()
	created, err := svc.Create(context.Background(), "api", "Auth Refactoring", "", true)
	require.NoError(t, err)

	tag := document.Metadata{
		document.MetaType:         string(document.KindNote),
		document.MetaRepository:   "api",
		document.MetaCreatedAt:    stamp(1),
		document.MetaInitiativeID: created.ID,
	}
	require.NoError(t, store.Upsert(context.Background(), []document.Document{
		document.New("note:list0001", "a decision", tag.Clone()),
	}))
	summaryMeta := tag.Clone()
	summaryMeta[document.MetaType] = string(document.KindSessionSummary)
	require.NoError(t, store.Upsert(context.Background(), []document.Document{
		document.New("session_summary:list0002", "a session", summaryMeta),
	}))

	list, err := svc.List(context.Background(), "api", "active")
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.Initiatives[0].NoteCount)
	assert.Equal(t, 1, list.Initiatives[0].SessionSummaryCount)
	assert.True(t, list.Initiatives[0].Focused)
	require.NotNil(t, list.Focus)
	assert.Equal(t, created.ID, list.Focus.ID)
}

func TestFocusRejectsCompletedInitiative(t *testing.T) {
	_, svc := newInitiativeFixture()
	created, err := svc.Create(context.Background(), "api", "Old Work", "", false)
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), "api", created.ID, "done")
	require.NoError(t, err)

	_, err = svc.Focus(context.Background(), "api", "Old Work")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")
}

func TestCompleteClearsFocusAndReportsStats(t *testing.T) {
	store, svc := newInitiativeFixture()
	created, err := svc.Create(context.Background(), "api", "Auth Refactoring", "", true)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(context.Background(), []document.Document{
		document.New("note:done0001", "a decision", document.Metadata{
			document.MetaType:         string(document.KindNote),
			document.MetaCreatedAt:    stamp(1),
			document.MetaInitiativeID: created.ID,
		}),
	}))

	resp, err := svc.Complete(context.Background(), "api", "Auth Refactoring", "Shipped")
	require.NoError(t, err)
	assert.True(t, resp.FocusCleared)
	assert.Equal(t, 1, resp.NoteCount)
	assert.NotEmpty(t, resp.Duration)

	focus, err := store.Get(context.Background(), []string{FocusID("api")}, nil)
	require.NoError(t, err)
	assert.Empty(t, focus)

	// Second completion is forbidden.
	_, err = svc.Complete(context.Background(), "api", created.ID, "again")
	require.Error(t, err)

	active, err := svc.List(context.Background(), "api", memory.StatusActive)
	require.NoError(t, err)
	assert.Zero(t, active.Total)
	completed, err := svc.List(context.Background(), "api", memory.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, completed.Total)
}

func TestSummarizeBuildsTimeline(t *testing.T) {
	store, svc := newInitiativeFixture()
	created, err := svc.Create(context.Background(), "api", "Auth Refactoring", "JWT everywhere", true)
	require.NoError(t, err)

	for i, text := range []string{"first step", "second step"} {
		meta := document.Metadata{
			document.MetaType:         string(document.KindNote),
			document.MetaCreatedAt:    stamp(2 - i),
			document.MetaInitiativeID: created.ID,
		}
		require.NoError(t, store.Upsert(context.Background(), []document.Document{
			document.New(newID(document.KindNote), text, meta),
		}))
	}

	resp, err := svc.Summarize(context.Background(), "api", "Auth Refactoring")
	require.NoError(t, err)
	require.Len(t, resp.Timeline, 2)
	assert.Equal(t, "first step", resp.Timeline[0].Content)
	assert.Contains(t, resp.Narrative, "Auth Refactoring")
	assert.Contains(t, resp.Narrative, "JWT everywhere")
}

func TestInitiativeStale(t *testing.T) {
	now := document.Metadata{document.MetaUpdatedAt: stamp(0)}.Time(document.MetaUpdatedAt)
	fresh := document.Metadata{document.MetaUpdatedAt: stamp(2)}.Time(document.MetaUpdatedAt)
	old := document.Metadata{document.MetaUpdatedAt: stamp(9)}.Time(document.MetaUpdatedAt)

	assert.False(t, InitiativeStale(fresh, now))
	assert.True(t, InitiativeStale(old, now))
}
