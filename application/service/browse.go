package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scottyroges/cortex/domain/document"
)

// BrowseItem is the full document shape returned by the maintenance surface.
type BrowseItem struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// BrowseStats summarizes the store contents.
type BrowseStats struct {
	TotalDocuments int            `json:"total_documents"`
	ByType         map[string]int `json:"by_type"`
	ByRepository   map[string]int `json:"by_repository"`
}

// CleanupReport describes orphaned code documents whose files no longer
// exist on disk.
type CleanupReport struct {
	Repository string   `json:"repository"`
	Orphaned   []string `json:"orphaned_files,omitempty"`
	Documents  int      `json:"documents"`
	Deleted    int      `json:"deleted"`
	Executed   bool     `json:"executed"`
}

// BrowseService is the introspection and maintenance surface behind the
// /browse endpoints and the cleanup/delete tools.
type BrowseService struct {
	store Store
	index *IndexManager
	log   *slog.Logger
}

func NewBrowseService(store Store, index *IndexManager, log *slog.Logger) *BrowseService {
	if log == nil {
		log = slog.Default()
	}
	return &BrowseService{store: store, index: index, log: log.With(slog.String("component", "browse"))}
}

// Stats counts documents by type and repository.
func (s *BrowseService) Stats(ctx context.Context) (BrowseStats, error) {
	docs, err := s.store.Get(ctx, nil, nil)
	if err != nil {
		return BrowseStats{}, fmt.Errorf("browse stats: %w", err)
	}
	stats := BrowseStats{
		TotalDocuments: len(docs),
		ByType:         make(map[string]int),
		ByRepository:   make(map[string]int),
	}
	for _, d := range docs {
		stats.ByType[string(d.Kind())]++
		if repo := d.Repository(); repo != "" {
			stats.ByRepository[repo]++
		}
	}
	return stats, nil
}

// List returns documents matching the optional type/repository filters,
// newest first, up to limit.
func (s *BrowseService) List(ctx context.Context, kind, repository string, limit int) ([]BrowseItem, error) {
	docs, err := s.store.Get(ctx, nil, browseFilter(kind, repository))
	if err != nil {
		return nil, fmt.Errorf("browse list: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt().After(docs[j].CreatedAt())
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return browseItems(docs), nil
}

// Get returns one document by id.
func (s *BrowseService) Get(ctx context.Context, id string) (BrowseItem, error) {
	docs, err := s.store.Get(ctx, []string{id}, nil)
	if err != nil {
		return BrowseItem{}, fmt.Errorf("browse get: %w", err)
	}
	if len(docs) == 0 {
		return BrowseItem{}, fmt.Errorf("document %s not found", id)
	}
	return browseItem(docs[0]), nil
}

// Search does a case-insensitive substring scan over document text. This is
// deliberate: the maintenance surface must work even when the ranked
// pipeline or its models are unavailable.
func (s *BrowseService) Search(ctx context.Context, query, kind, repository string, limit int) ([]BrowseItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	docs, err := s.store.Get(ctx, nil, browseFilter(kind, repository))
	if err != nil {
		return nil, fmt.Errorf("browse search: %w", err)
	}
	needle := strings.ToLower(query)
	var matched []document.Document
	for _, d := range docs {
		if strings.Contains(strings.ToLower(d.Text()), needle) {
			matched = append(matched, d)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return browseItems(matched), nil
}

// Sample returns up to n randomly chosen documents.
func (s *BrowseService) Sample(ctx context.Context, kind, repository string, n int) ([]BrowseItem, error) {
	docs, err := s.store.Get(ctx, nil, browseFilter(kind, repository))
	if err != nil {
		return nil, fmt.Errorf("browse sample: %w", err)
	}
	if n <= 0 {
		n = 5
	}
	rand.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
	if len(docs) > n {
		docs = docs[:n]
	}
	return browseItems(docs), nil
}

// Update overwrites a document's text and/or merges metadata keys.
func (s *BrowseService) Update(ctx context.Context, id, text string, metaPatch map[string]any) (BrowseItem, error) {
	docs, err := s.store.Get(ctx, []string{id}, nil)
	if err != nil {
		return BrowseItem{}, fmt.Errorf("browse update: %w", err)
	}
	if len(docs) == 0 {
		return BrowseItem{}, fmt.Errorf("document %s not found", id)
	}
	doc := docs[0]
	meta := doc.Metadata().Clone()
	for k, v := range metaPatch {
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	meta[document.MetaUpdatedAt] = NowStamp()

	newText := doc.Text()
	var updated document.Document
	if text != "" && text != doc.Text() {
		newText = text
		// Text changed; the stored embedding no longer matches.
		updated = document.New(doc.ID(), newText, meta)
	} else {
		updated = document.NewWithEmbedding(doc.ID(), newText, meta, doc.Embedding())
	}
	if err := s.store.Upsert(ctx, []document.Document{updated}); err != nil {
		return BrowseItem{}, fmt.Errorf("browse update: %w", err)
	}
	s.index.MarkDirty()
	return browseItem(updated), nil
}

// Delete removes documents by id.
func (s *BrowseService) Delete(ctx context.Context, ids []string) (int, error) {
	n, err := s.store.Delete(ctx, ids, nil)
	if err != nil {
		return 0, fmt.Errorf("browse delete: %w", err)
	}
	if n > 0 {
		s.index.MarkDirty()
	}
	return n, nil
}

// DeleteByType removes every document of a kind, optionally scoped to a
// repository.
func (s *BrowseService) DeleteByType(ctx context.Context, kind, repository string) (int, error) {
	if kind == "" {
		return 0, fmt.Errorf("type must not be empty")
	}
	n, err := s.store.Delete(ctx, nil, browseFilter(kind, repository))
	if err != nil {
		return 0, fmt.Errorf("browse delete-by-type: %w", err)
	}
	if n > 0 {
		s.index.MarkDirty()
	}
	return n, nil
}

// Cleanup finds code documents whose source files no longer exist under
// repoPath and, when execute is set, deletes them.
func (s *BrowseService) Cleanup(ctx context.Context, repository, repoPath string, execute bool) (CleanupReport, error) {
	if repository == "" || repoPath == "" {
		return CleanupReport{}, fmt.Errorf("repository and path are required")
	}
	docs, err := s.store.Get(ctx, nil, document.And(
		document.Eq(document.MetaRepository, repository),
		document.InStrings(document.MetaType, codeKinds),
	))
	if err != nil {
		return CleanupReport{}, fmt.Errorf("cleanup scan: %w", err)
	}

	report := CleanupReport{Repository: repository, Executed: execute}
	orphaned := make(map[string]bool)
	for _, d := range docs {
		rel := d.Metadata().String(document.MetaFilePath)
		if rel == "" {
			continue
		}
		missing, checked := orphaned[rel]
		if !checked {
			_, statErr := os.Stat(filepath.Join(repoPath, filepath.FromSlash(rel)))
			missing = os.IsNotExist(statErr)
			orphaned[rel] = missing
		}
		if missing {
			report.Documents++
		}
	}
	for rel, missing := range orphaned {
		if missing {
			report.Orphaned = append(report.Orphaned, rel)
		}
	}
	sort.Strings(report.Orphaned)

	if execute {
		for _, rel := range report.Orphaned {
			n, err := s.store.Delete(ctx, nil, document.And(
				document.Eq(document.MetaRepository, repository),
				document.Eq(document.MetaFilePath, rel),
				document.InStrings(document.MetaType, codeKinds),
			))
			if err != nil {
				return report, fmt.Errorf("cleanup delete %s: %w", rel, err)
			}
			report.Deleted += n
		}
		if report.Deleted > 0 {
			s.index.MarkDirty()
		}
	}
	return report, nil
}

// Purge removes every document for a repository.
func (s *BrowseService) Purge(ctx context.Context, repository string) (int, error) {
	if repository == "" {
		return 0, fmt.Errorf("repository must not be empty")
	}
	n, err := s.store.Delete(ctx, nil, document.Eq(document.MetaRepository, repository))
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", repository, err)
	}
	if n > 0 {
		s.index.MarkDirty()
	}
	s.log.Info("repository purged", slog.String("repository", repository), slog.Int("documents", n))
	return n, nil
}

func browseFilter(kind, repository string) document.Filter {
	var filters []document.Filter
	if kind != "" {
		filters = append(filters, document.Eq(document.MetaType, kind))
	}
	if repository != "" {
		filters = append(filters, document.Eq(document.MetaRepository, repository))
	}
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	default:
		return document.And(filters...)
	}
}

func browseItems(docs []document.Document) []BrowseItem {
	items := make([]BrowseItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, browseItem(d))
	}
	return items
}

func browseItem(d document.Document) BrowseItem {
	return BrowseItem{
		ID:        d.ID(),
		Type:      string(d.Kind()),
		Content:   d.Text(),
		Metadata:  d.Metadata().Clone(),
		CreatedAt: d.Metadata().String(document.MetaCreatedAt),
		UpdatedAt: d.Metadata().String(document.MetaUpdatedAt),
	}
}
