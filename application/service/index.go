package service

import (
	"context"
	"log/slog"
	"sync"

	domainsearch "github.com/scottyroges/cortex/domain/search"
	infrasearch "github.com/scottyroges/cortex/infrastructure/search"
)

// IndexManager owns the BM25 keyword index. The index is an immutable
// snapshot rebuilt lazily from the store: writers call MarkDirty, the next
// search rebuilds once. Rebuilds are idempotent and serialized.
type IndexManager struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	index *infrasearch.BM25Index
	dirty bool
}

// NewIndexManager creates a manager whose first search triggers a build.
func NewIndexManager(store Store, log *slog.Logger) *IndexManager {
	if log == nil {
		log = slog.Default()
	}
	return &IndexManager{
		store: store,
		log:   log.With(slog.String("component", "bm25_index")),
		dirty: true,
	}
}

// MarkDirty schedules a rebuild before the next search.
func (m *IndexManager) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// Search queries the keyword index, rebuilding it first when stale.
func (m *IndexManager) Search(ctx context.Context, query string, topK int) ([]domainsearch.Hit, error) {
	idx, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, topK), nil
}

// Rebuild forces an immediate rebuild regardless of the dirty flag.
func (m *IndexManager) Rebuild(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked(ctx)
}

func (m *IndexManager) current(ctx context.Context) (*infrasearch.BM25Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty || m.index == nil {
		if err := m.rebuildLocked(ctx); err != nil {
			return nil, err
		}
	}
	return m.index, nil
}

func (m *IndexManager) rebuildLocked(ctx context.Context) error {
	docs, err := m.store.Get(ctx, nil, nil)
	if err != nil {
		return err
	}
	indexDocs := make([]infrasearch.IndexDoc, 0, len(docs))
	for _, d := range docs {
		indexDocs = append(indexDocs, infrasearch.IndexDoc{
			ID:   d.ID(),
			Text: d.Text(),
			Meta: d.Metadata(),
		})
	}
	m.index = infrasearch.NewBM25Index(indexDocs)
	m.dirty = false
	m.log.Debug("keyword index rebuilt", slog.Int("documents", len(indexDocs)))
	return nil
}
