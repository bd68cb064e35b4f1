package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/infrastructure/chunking"
	"github.com/scottyroges/cortex/infrastructure/persistence"
	"github.com/scottyroges/cortex/infrastructure/provider"
	"github.com/scottyroges/cortex/infrastructure/skeleton"
	"github.com/scottyroges/cortex/infrastructure/vcs"
	"github.com/scottyroges/cortex/infrastructure/walker"
	"github.com/scottyroges/cortex/internal/scrub"
)

// Delta modes reported in ingest stats.
const (
	DeltaModeFull = "full"
	DeltaModeGit  = "git"
	DeltaModeHash = "hash"
)

// RepositoryVCS extends the basic version-control slice with the diff
// operations ingest needs.
type RepositoryVCS interface {
	VersionControl
	Root(ctx context.Context, path string) string
	ChangedSince(ctx context.Context, path, fromCommit string) (vcs.Changes, bool)
	Untracked(ctx context.Context, path string) []string
	TrackedFileCount(ctx context.Context, path string) int
	CommitsSince(ctx context.Context, path, isoTimestamp string) int
}

// IngestRequest describes one indexing run.
type IngestRequest struct {
	Root            string
	Repository      string
	ForceFull       bool
	Extensions      []string
	IgnorePatterns  []string
	IncludeGlobs    []string
	SkipIgnoreFiles bool
	// Progress, when set, is called after each processed file.
	Progress func(processed, total int)
}

// IngestStats is the completion record for an ingest run.
type IngestStats struct {
	Repository     string   `json:"repository"`
	Branch         string   `json:"branch"`
	DeltaMode      string   `json:"delta_mode"`
	FilesScanned   int      `json:"files_scanned"`
	FilesProcessed int      `json:"files_processed"`
	FilesSkipped   int      `json:"files_skipped"`
	FilesDeleted   int      `json:"files_deleted"`
	ChunksCreated  int      `json:"chunks_created"`
	ChunksDeleted  int      `json:"chunks_deleted"`
	Errors         []string `json:"errors,omitempty"`
}

// codeKinds are the document kinds the ingest engine owns per file.
var codeKinds = []string{
	string(document.KindCode),
	string(document.KindFileMetadata),
	string(document.KindDependency),
}

// IngestService turns a source tree into code-chunk documents, tracking
// delta state so unchanged files are skipped on subsequent runs.
type IngestService struct {
	store    Store
	index    *IndexManager
	delta    *persistence.DeltaState
	walker   *walker.Walker
	vcs      RepositoryVCS
	chunker  *chunking.Chunker
	headers  *provider.HeaderProvider
	skeleton *skeleton.Generator
	log      *slog.Logger
}

func NewIngestService(
	store Store,
	index *IndexManager,
	delta *persistence.DeltaState,
	w *walker.Walker,
	repoVCS RepositoryVCS,
	chunker *chunking.Chunker,
	headers *provider.HeaderProvider,
	skel *skeleton.Generator,
	log *slog.Logger,
) *IngestService {
	if log == nil {
		log = slog.Default()
	}
	return &IngestService{
		store:    store,
		index:    index,
		delta:    delta,
		walker:   w,
		vcs:      repoVCS,
		chunker:  chunker,
		headers:  headers,
		skeleton: skel,
		log:      log.With(slog.String("component", "ingest")),
	}
}

// Ingest indexes the tree rooted at req.Root. Per-file failures are recorded
// in the stats and never abort the run.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (IngestStats, error) {
	root, err := filepath.Abs(req.Root)
	if err != nil {
		return IngestStats{}, fmt.Errorf("resolve ingest root: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return IngestStats{}, fmt.Errorf("ingest root %s is not a directory", root)
	}

	repository := req.Repository
	if repository == "" {
		repository = filepath.Base(root)
	}
	branch := "unknown"
	head := ""
	isRepo := s.vcs != nil && s.vcs.IsRepo(ctx, root)
	if isRepo {
		if b := s.vcs.Branch(ctx, root); b != "" {
			branch = b
		}
		head = s.vcs.HeadCommit(ctx, root)
	}

	stats := IngestStats{Repository: repository, Branch: branch}
	start := time.Now()
	s.log.Info("ingest started",
		slog.String("repository", repository),
		slog.String("root", root),
		slog.Bool("force_full", req.ForceFull),
	)

	eligible, err := s.walker.Walk(root, walker.Options{
		Extensions:      req.Extensions,
		IgnorePatterns:  req.IgnorePatterns,
		IncludeGlobs:    req.IncludeGlobs,
		SkipIgnoreFiles: req.SkipIgnoreFiles,
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", root, err)
	}
	stats.FilesScanned = len(eligible)

	prior, _ := s.delta.Repo(repository)
	toProcess, deleted, mode := s.selectDelta(ctx, root, eligible, prior, req.ForceFull, head)
	stats.DeltaMode = mode

	// Remove documents for paths that no longer exist.
	hashes := cloneHashes(prior.FileHashes)
	for _, abs := range deleted {
		rel := relPath(root, abs)
		n, err := s.deleteFileDocs(ctx, repository, rel)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: delete: %v", rel, err))
			continue
		}
		stats.FilesDeleted++
		stats.ChunksDeleted += n
		delete(hashes, abs)
	}

	for i, abs := range toProcess {
		created, removed, err := s.processFile(ctx, repository, root, abs, branch)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", relPath(root, abs), err))
			continue
		}
		stats.ChunksCreated += created
		stats.ChunksDeleted += removed
		if created == 0 {
			stats.FilesSkipped++
		} else {
			stats.FilesProcessed++
		}
		if h, err := walker.ComputeFileHash(abs); err == nil {
			hashes[abs] = h
		}
		if req.Progress != nil {
			req.Progress(i+1, len(toProcess))
		}
	}
	stats.FilesSkipped += stats.FilesScanned - len(toProcess)

	// State and skeleton failures are reported but do not invalidate the
	// chunk work already persisted.
	if err := s.delta.SetRepo(repository, persistence.RepoState{
		Repository:    repository,
		Branch:        branch,
		IndexedCommit: head,
		IndexedAt:     NowStamp(),
		FileHashes:    hashes,
	}); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("delta state: %v", err))
	}
	if err := s.updateSkeleton(ctx, repository, root, branch, head); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("skeleton: %v", err))
	}

	s.index.MarkDirty()
	s.log.Info("ingest finished",
		slog.String("repository", repository),
		slog.String("delta_mode", stats.DeltaMode),
		slog.Int("files_processed", stats.FilesProcessed),
		slog.Int("chunks_created", stats.ChunksCreated),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

// selectDelta picks the reindex strategy: forced full rescan, version-control
// diff against the last indexed commit, or hash comparison.
func (s *IngestService) selectDelta(
	ctx context.Context,
	root string,
	eligible []string,
	prior persistence.RepoState,
	forceFull bool,
	head string,
) (toProcess, deleted []string, mode string) {
	if forceFull {
		return eligible, nil, DeltaModeFull
	}

	eligibleSet := make(map[string]struct{}, len(eligible))
	for _, p := range eligible {
		eligibleSet[p] = struct{}{}
	}

	if s.vcs != nil && prior.IndexedCommit != "" && head != "" {
		if changes, ok := s.vcs.ChangedSince(ctx, root, prior.IndexedCommit); ok {
			candidates := make([]string, 0, len(changes.Modified))
			for _, rel := range changes.Modified {
				candidates = append(candidates, filepath.Join(root, rel))
			}
			for _, r := range changes.Renamed {
				candidates = append(candidates, filepath.Join(root, r.New))
				deleted = append(deleted, filepath.Join(root, r.Old))
			}
			for _, rel := range s.vcs.Untracked(ctx, root) {
				candidates = append(candidates, filepath.Join(root, rel))
			}
			for _, rel := range changes.Deleted {
				deleted = append(deleted, filepath.Join(root, rel))
			}
			seen := make(map[string]struct{}, len(candidates))
			for _, abs := range candidates {
				if _, dup := seen[abs]; dup {
					continue
				}
				seen[abs] = struct{}{}
				if _, ok := eligibleSet[abs]; ok {
					toProcess = append(toProcess, abs)
				}
			}
			return toProcess, deleted, DeltaModeGit
		}
	}

	changed, _ := walker.ChangedFiles(eligible, prior.FileHashes)
	for abs := range prior.FileHashes {
		if _, ok := eligibleSet[abs]; !ok {
			deleted = append(deleted, abs)
		}
	}
	return changed, deleted, DeltaModeHash
}

// processFile replaces the stored chunks for one file. Returns the number of
// chunks created and the number of prior chunks removed.
func (s *IngestService) processFile(ctx context.Context, repository, root, abs, branch string) (int, int, error) {
	raw, err := os.ReadFile(abs)
	if err != nil {
		return 0, 0, fmt.Errorf("read: %w", err)
	}
	content := strings.ToValidUTF8(string(raw), "�")
	rel := relPath(root, abs)
	if strings.TrimSpace(content) == "" {
		removed, err := s.deleteFileDocs(ctx, repository, rel)
		return 0, removed, err
	}
	content = scrub.Clean(content).Text

	lang := chunking.DetectLanguage(rel, content)
	chunks := s.chunker.SplitLanguage(lang, content)

	// Replace rather than diff: prior chunk counts may differ.
	removed, err := s.deleteFileDocs(ctx, repository, rel)
	if err != nil {
		return 0, 0, fmt.Errorf("clear prior chunks: %w", err)
	}
	if len(chunks) == 0 {
		return 0, removed, nil
	}

	indexedAt := NowStamp()
	docs := make([]document.Document, 0, len(chunks))
	for i, ch := range chunks {
		header := provider.TrivialHeader(rel)
		if s.headers != nil {
			header = s.headers.Header(ctx, rel, ch.Content())
		}
		meta := document.Metadata{
			document.MetaType:        string(document.KindCode),
			document.MetaRepository:  repository,
			document.MetaFilePath:    rel,
			document.MetaBranch:      branch,
			document.MetaLanguage:    string(lang),
			document.MetaIndexedAt:   indexedAt,
			document.MetaCreatedAt:   indexedAt,
			document.MetaUpdatedAt:   indexedAt,
			document.MetaChunkIndex:  i,
			document.MetaTotalChunks: len(chunks),
		}
		if class, function := chunking.ScopeParts(lang, content, ch.StartLine(), ch.EndLine()); class != "" || function != "" {
			if class != "" {
				meta[document.MetaClassName] = class
			}
			if function != "" {
				meta[document.MetaFunctionName] = function
			}
			meta[document.MetaScope] = joinScope(class, function)
		}
		id := fmt.Sprintf("%s:%s:%d", repository, rel, i)
		docs = append(docs, document.New(id, header+"\n\n---\n\n"+ch.Content(), meta))
	}
	if err := s.store.Upsert(ctx, docs); err != nil {
		return 0, removed, fmt.Errorf("upsert chunks: %w", err)
	}
	return len(docs), removed, nil
}

// deleteFileDocs removes all ingest-owned documents for a file path.
func (s *IngestService) deleteFileDocs(ctx context.Context, repository, rel string) (int, error) {
	return s.store.Delete(ctx, nil, document.And(
		document.Eq(document.MetaRepository, repository),
		document.Eq(document.MetaFilePath, rel),
		document.InStrings(document.MetaType, codeKinds),
	))
}

// updateSkeleton regenerates and stores the directory-tree document.
func (s *IngestService) updateSkeleton(ctx context.Context, repository, root, branch, head string) error {
	if s.skeleton == nil {
		return nil
	}
	res, err := s.skeleton.Generate(ctx, root)
	if err != nil {
		return err
	}
	meta := document.Metadata{
		document.MetaType:       string(document.KindSkeleton),
		document.MetaRepository: repository,
		document.MetaBranch:     branch,
		document.MetaIndexedAt:  NowStamp(),
		document.MetaTotalFiles: res.TotalFiles,
		document.MetaTotalDirs:  res.TotalDirs,
	}
	if head != "" {
		meta[document.MetaIndexedCommit] = head
	}
	id := SkeletonID(repository, branch)
	StampWriteTimes(ctx, s.store, id, meta)
	return s.store.Upsert(ctx, []document.Document{
		document.New(id, res.Tree, meta),
	})
}

// joinScope renders the dotted scope string stored alongside the split
// class/function keys.
func joinScope(class, function string) string {
	switch {
	case class != "" && function != "":
		return class + "." + function
	case function != "":
		return function
	default:
		return class
	}
}

func relPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func cloneHashes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
