package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/document"
)

func TestRecallGroupsByDay(t *testing.T) {
	store := newMemStore()
	svc := NewRecallService(store, testLogger())

	seedDoc(t, store, "note:rc000001", "picked RS256", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "R",
		document.MetaCreatedAt:  stamp(0),
	})
	seedDoc(t, store, "session_summary:rc000002", "auth session", document.Metadata{
		document.MetaType:       string(document.KindSessionSummary),
		document.MetaRepository: "R",
		document.MetaCreatedAt:  stamp(0),
	})
	seedDoc(t, store, "note:rc000003", "too old", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "R",
		document.MetaCreatedAt:  stamp(20),
	})
	seedDoc(t, store, "note:rc000004", "other repo", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "S",
		document.MetaCreatedAt:  stamp(0),
	})

	resp, err := svc.Recall(context.Background(), RecallRequest{Repository: "R", Days: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalItems)
	require.NotEmpty(t, resp.Timeline)
	assert.Equal(t, 2, resp.Timeline[0].Count)

	types := map[string]bool{}
	for _, item := range resp.Timeline[0].Items {
		types[item.Type] = true
	}
	assert.Equal(t, map[string]bool{"note": true, "session_summary": true}, types)
}

func TestRecallNewestDayFirst(t *testing.T) {
	store := newMemStore()
	svc := NewRecallService(store, testLogger())

	seedDoc(t, store, "note:rc100001", "yesterday", document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(1),
	})
	seedDoc(t, store, "note:rc100002", "today", document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(0),
	})

	resp, err := svc.Recall(context.Background(), RecallRequest{Days: 7})
	require.NoError(t, err)
	require.Len(t, resp.Timeline, 2)
	assert.Greater(t, resp.Timeline[0].Date, resp.Timeline[1].Date)
	assert.Equal(t, "today", resp.Timeline[0].Items[0].Content)
}

func TestRecallExcludesCodeByDefault(t *testing.T) {
	store := newMemStore()
	svc := NewRecallService(store, testLogger())

	seedDoc(t, store, "api:main.go:0", "package main", document.Metadata{
		document.MetaType:      string(document.KindCode),
		document.MetaCreatedAt: stamp(0),
	})

	resp, err := svc.Recall(context.Background(), RecallRequest{})
	require.NoError(t, err)
	assert.Zero(t, resp.TotalItems)

	resp, err = svc.Recall(context.Background(), RecallRequest{IncludeCode: true})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalItems)
}
