package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/search"
	"github.com/scottyroges/cortex/infrastructure/vcs"
	"github.com/scottyroges/cortex/internal/config"
)

// memStore is an in-memory Store used across the service tests. Query ranks
// by naive token overlap so retrieval order is deterministic.
type memStore struct {
	mu   sync.Mutex
	docs map[string]document.Document
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]document.Document)}
}

func (m *memStore) Upsert(_ context.Context, docs []document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[d.ID()] = d
	}
	return nil
}

func (m *memStore) Get(_ context.Context, ids []string, filter document.Filter) ([]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []document.Document
	if len(ids) > 0 {
		for _, id := range ids {
			if d, ok := m.docs[id]; ok && (filter == nil || filter.Match(d.Metadata())) {
				out = append(out, d)
			}
		}
		return out, nil
	}
	for _, d := range m.docs {
		if filter == nil || filter.Match(d.Metadata()) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *memStore) Query(_ context.Context, text string, topK int, filter document.Filter) ([]search.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	terms := strings.Fields(strings.ToLower(text))
	var hits []search.Hit
	for _, d := range m.docs {
		if filter != nil && !filter.Match(d.Metadata()) {
			continue
		}
		body := strings.ToLower(d.Text())
		score := 0.0
		for _, t := range terms {
			if strings.Contains(body, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, search.NewHit(d.ID(), d.Text(), d.Metadata(), score/float64(len(terms))))
		}
	}
	search.SortByScore(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *memStore) Delete(_ context.Context, ids []string, filter document.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 && filter == nil {
		return 0, nil
	}
	deleted := 0
	if len(ids) > 0 {
		for _, id := range ids {
			if d, ok := m.docs[id]; ok && (filter == nil || filter.Match(d.Metadata())) {
				delete(m.docs, id)
				deleted++
			}
		}
		return deleted, nil
	}
	for id, d := range m.docs {
		if filter.Match(d.Metadata()) {
			delete(m.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) Count(_ context.Context, filter document.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filter == nil {
		return len(m.docs), nil
	}
	n := 0
	for _, d := range m.docs {
		if filter.Match(d.Metadata()) {
			n++
		}
	}
	return n, nil
}

// stubVCS is a canned-answer version-control adapter.
type stubVCS struct {
	isRepo    bool
	branch    string
	head      string
	tracked   int
	commits   int
	changes   vcs.Changes
	changesOK bool
	untracked []string
}

func (v *stubVCS) IsRepo(context.Context, string) bool        { return v.isRepo }
func (v *stubVCS) HeadCommit(context.Context, string) string  { return v.head }
func (v *stubVCS) Branch(context.Context, string) string      { return v.branch }
func (v *stubVCS) Root(_ context.Context, path string) string { return path }
func (v *stubVCS) Untracked(context.Context, string) []string { return v.untracked }
func (v *stubVCS) TrackedFileCount(context.Context, string) int {
	return v.tracked
}
func (v *stubVCS) CommitsSince(context.Context, string, string) int { return v.commits }
func (v *stubVCS) ChangedSince(context.Context, string, string) (vcs.Changes, bool) {
	return v.changes, v.changesOK
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testRuntime() *config.Runtime {
	return config.NewRuntime(config.DefaultRuntimeSettings())
}
