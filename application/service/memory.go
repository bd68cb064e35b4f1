package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/infrastructure/walker"
	"github.com/scottyroges/cortex/internal/scrub"
)

// GlobalRepository is the fallback when no repository can be resolved.
const GlobalRepository = "global"

// VersionControl is the slice of the vcs adapter the services need.
type VersionControl interface {
	IsRepo(ctx context.Context, path string) bool
	HeadCommit(ctx context.Context, path string) string
	Branch(ctx context.Context, path string) string
}

// SaveMemoryRequest covers both notes and insights.
type SaveMemoryRequest struct {
	Content    string
	Title      string
	Tags       []string
	Repository string
	RepoPath   string
	Initiative string
	// Files is required for insights, ignored for notes.
	Files []string
}

// SaveMemoryResponse reports the stored document and any scrubbing.
type SaveMemoryResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Repository string          `json:"repository"`
	Redactions int             `json:"redactions,omitempty"`
	Initiative *InitiativeInfo `json:"initiative,omitempty"`
}

// ConcludeSessionRequest captures an end-of-session summary.
type ConcludeSessionRequest struct {
	Summary      string
	ChangedFiles []string
	Repository   string
	RepoPath     string
	Initiative   string
}

// ConcludeSessionResponse reports the stored summary.
type ConcludeSessionResponse struct {
	ID                      string          `json:"id"`
	Repository              string          `json:"repository"`
	Redactions              int             `json:"redactions,omitempty"`
	Initiative              *InitiativeInfo `json:"initiative,omitempty"`
	CompletionSignal        bool            `json:"completion_signal_detected"`
	CompletionSignalMessage string          `json:"completion_prompt,omitempty"`
}

// ValidateInsightRequest records a manual validation outcome.
type ValidateInsightRequest struct {
	InsightID          string
	Result             memory.ValidationResult
	Notes              string
	Deprecate          bool
	ReplacementInsight string
	RepoPath           string
}

// ValidateInsightResponse reports the updated insight and any replacement.
type ValidateInsightResponse struct {
	ID            string `json:"id"`
	Result        string `json:"result"`
	Status        string `json:"status"`
	ReplacementID string `json:"replacement_id,omitempty"`
}

// MemoryService owns the note, insight, and session-summary write paths.
// All user text is secret-scrubbed before it reaches the store.
type MemoryService struct {
	store Store
	index *IndexManager
	vcs   VersionControl
	log   *slog.Logger
}

// NewMemoryService creates the service. The vcs adapter may be nil; commit
// and branch enrichment is then skipped.
func NewMemoryService(store Store, index *IndexManager, vcs VersionControl, log *slog.Logger) *MemoryService {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryService{
		store: store,
		index: index,
		vcs:   vcs,
		log:   log.With(slog.String("component", "memory")),
	}
}

// SaveNote scrubs and stores a note document.
func (s *MemoryService) SaveNote(ctx context.Context, req SaveMemoryRequest) (SaveMemoryResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return SaveMemoryResponse{}, fmt.Errorf("content must not be empty")
	}

	repository := s.resolveRepository(ctx, req.Repository, req.RepoPath)
	initiative := s.resolveInitiative(ctx, repository, req.Initiative)
	cleaned := scrub.Clean(req.Content)

	now := NowStamp()
	meta := document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: repository,
		document.MetaCreatedAt:  now,
		document.MetaUpdatedAt:  now,
		document.MetaVerifiedAt: now,
		document.MetaStatus:     memory.StatusActive,
	}
	if req.Title != "" {
		meta[document.MetaTitle] = req.Title
	}
	if len(req.Tags) > 0 {
		meta.SetJSON(document.MetaTags, req.Tags)
	}
	s.attachContext(ctx, meta, req.RepoPath, initiative)

	id := newID(document.KindNote)
	text := cleaned.Text
	if req.Title != "" {
		text = req.Title + "\n\n" + text
	}
	if err := s.store.Upsert(ctx, []document.Document{document.New(id, text, meta)}); err != nil {
		return SaveMemoryResponse{}, fmt.Errorf("save note: %w", err)
	}
	s.index.MarkDirty()
	s.touchInitiative(ctx, initiative)

	return SaveMemoryResponse{
		ID:         id,
		Type:       string(document.KindNote),
		Repository: repository,
		Redactions: cleaned.Redactions,
		Initiative: initiative,
	}, nil
}

// SaveInsight scrubs and stores an insight anchored to files. The file list
// is required; hashes are computed for the files that currently exist.
func (s *MemoryService) SaveInsight(ctx context.Context, req SaveMemoryRequest) (SaveMemoryResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return SaveMemoryResponse{}, fmt.Errorf("content must not be empty")
	}
	if len(req.Files) == 0 {
		return SaveMemoryResponse{}, fmt.Errorf("insights require a non-empty files list")
	}

	repository := s.resolveRepository(ctx, req.Repository, req.RepoPath)
	initiative := s.resolveInitiative(ctx, repository, req.Initiative)
	cleaned := scrub.Clean(req.Content)

	now := NowStamp()
	meta := document.Metadata{
		document.MetaType:       string(document.KindInsight),
		document.MetaRepository: repository,
		document.MetaCreatedAt:  now,
		document.MetaUpdatedAt:  now,
		document.MetaVerifiedAt: now,
		document.MetaStatus:     memory.StatusActive,
	}
	if req.Title != "" {
		meta[document.MetaTitle] = req.Title
	}
	if len(req.Tags) > 0 {
		meta.SetJSON(document.MetaTags, req.Tags)
	}
	meta.SetJSON(document.MetaFiles, req.Files)
	meta.SetJSON(document.MetaFileHashes, hashFiles(req.RepoPath, req.Files))
	s.attachContext(ctx, meta, req.RepoPath, initiative)

	id := newID(document.KindInsight)
	text := cleaned.Text
	if req.Title != "" {
		text = req.Title + "\n\n" + text
	}
	if err := s.store.Upsert(ctx, []document.Document{document.New(id, text, meta)}); err != nil {
		return SaveMemoryResponse{}, fmt.Errorf("save insight: %w", err)
	}
	s.index.MarkDirty()
	s.touchInitiative(ctx, initiative)

	return SaveMemoryResponse{
		ID:         id,
		Type:       string(document.KindInsight),
		Repository: repository,
		Redactions: cleaned.Redactions,
		Initiative: initiative,
	}, nil
}

// ConcludeSession stores a session summary and flags completion language.
func (s *MemoryService) ConcludeSession(ctx context.Context, req ConcludeSessionRequest) (ConcludeSessionResponse, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return ConcludeSessionResponse{}, fmt.Errorf("summary must not be empty")
	}

	repository := s.resolveRepository(ctx, req.Repository, req.RepoPath)
	initiative := s.resolveInitiative(ctx, repository, req.Initiative)
	cleaned := scrub.Clean(req.Summary)

	now := NowStamp()
	meta := document.Metadata{
		document.MetaType:       string(document.KindSessionSummary),
		document.MetaRepository: repository,
		document.MetaCreatedAt:  now,
		document.MetaUpdatedAt:  now,
		document.MetaStatus:     memory.StatusActive,
	}
	if len(req.ChangedFiles) > 0 {
		meta.SetJSON(document.MetaFiles, req.ChangedFiles)
	}
	s.attachContext(ctx, meta, req.RepoPath, initiative)

	id := newID(document.KindSessionSummary)
	if err := s.store.Upsert(ctx, []document.Document{document.New(id, cleaned.Text, meta)}); err != nil {
		return ConcludeSessionResponse{}, fmt.Errorf("conclude session: %w", err)
	}
	s.index.MarkDirty()
	s.touchInitiative(ctx, initiative)

	resp := ConcludeSessionResponse{
		ID:         id,
		Repository: repository,
		Redactions: cleaned.Redactions,
		Initiative: initiative,
	}
	if initiative != nil && memory.DetectCompletionSignal(cleaned.Text) {
		resp.CompletionSignal = true
		resp.CompletionSignalMessage = fmt.Sprintf(
			"The summary suggests %q may be finished. Complete it with manage_initiative(action=\"complete\") if so.",
			initiative.Name,
		)
	}
	return resp, nil
}

// ValidateInsight updates an insight after manual verification.
func (s *MemoryService) ValidateInsight(ctx context.Context, req ValidateInsightRequest) (ValidateInsightResponse, error) {
	if !req.Result.Valid() {
		return ValidateInsightResponse{}, fmt.Errorf("invalid validation result %q", req.Result)
	}
	docs, err := s.store.Get(ctx, []string{req.InsightID}, nil)
	if err != nil {
		return ValidateInsightResponse{}, fmt.Errorf("load insight: %w", err)
	}
	if len(docs) == 0 {
		return ValidateInsightResponse{}, fmt.Errorf("insight %s not found", req.InsightID)
	}
	doc := docs[0]
	if doc.Kind() != document.KindInsight {
		return ValidateInsightResponse{}, fmt.Errorf("%s is a %s, not an insight", req.InsightID, doc.Kind())
	}

	meta := doc.Metadata().Clone()
	now := NowStamp()
	meta[document.MetaVerifiedAt] = now
	meta[document.MetaUpdatedAt] = now
	meta[document.MetaLastValidationResult] = string(req.Result)

	resp := ValidateInsightResponse{ID: req.InsightID, Result: string(req.Result)}

	switch req.Result {
	case memory.ValidationStillValid:
		// Fresh confirmation: re-anchor hashes and commit to current state.
		meta.SetJSON(document.MetaFileHashes, hashFiles(req.RepoPath, meta.StringSlice(document.MetaFiles)))
		if s.vcs != nil && req.RepoPath != "" {
			if commit := s.vcs.HeadCommit(ctx, req.RepoPath); commit != "" {
				meta[document.MetaCreatedCommit] = commit
			}
		}
	case memory.ValidationNoLongerValid:
		if req.Deprecate {
			meta[document.MetaStatus] = memory.StatusDeprecated
			meta[document.MetaDeprecatedAt] = now
			if req.ReplacementInsight != "" {
				replacement, err := s.SaveInsight(ctx, SaveMemoryRequest{
					Content:    req.ReplacementInsight,
					Title:      meta.String(document.MetaTitle),
					Tags:       meta.StringSlice(document.MetaTags),
					Repository: meta.String(document.MetaRepository),
					RepoPath:   req.RepoPath,
					Files:      meta.StringSlice(document.MetaFiles),
				})
				if err != nil {
					return ValidateInsightResponse{}, fmt.Errorf("create replacement insight: %w", err)
				}
				meta[document.MetaSupersededBy] = replacement.ID
				resp.ReplacementID = replacement.ID
			}
		}
	}

	if req.Notes != "" {
		meta["validation_notes"] = scrub.Clean(req.Notes).Text
	}

	if err := s.store.Upsert(ctx, []document.Document{
		document.NewWithEmbedding(doc.ID(), doc.Text(), meta, doc.Embedding()),
	}); err != nil {
		return ValidateInsightResponse{}, fmt.Errorf("update insight: %w", err)
	}
	s.index.MarkDirty()

	resp.Status = meta.String(document.MetaStatus)
	return resp, nil
}

// resolveRepository implements the documented order: explicit argument,
// basename of a version-controlled path, the focus document's repository,
// then the global bucket.
func (s *MemoryService) resolveRepository(ctx context.Context, explicit, repoPath string) string {
	if explicit != "" {
		return explicit
	}
	if repoPath != "" && s.vcs != nil && s.vcs.IsRepo(ctx, repoPath) {
		return filepath.Base(repoPath)
	}
	if cwd, err := os.Getwd(); err == nil && s.vcs != nil && s.vcs.IsRepo(ctx, cwd) {
		return filepath.Base(cwd)
	}
	focuses, err := s.store.Get(ctx, nil, document.Eq(document.MetaType, string(document.KindFocus)))
	if err == nil && len(focuses) > 0 {
		if repo := focuses[0].Repository(); repo != "" {
			return repo
		}
	}
	return GlobalRepository
}

// resolveInitiative implements the documented order: explicit id, name
// lookup within the repository, then the current focus.
func (s *MemoryService) resolveInitiative(ctx context.Context, repository, ref string) *InitiativeInfo {
	if ref != "" {
		if strings.HasPrefix(ref, "initiative:") {
			if docs, err := s.store.Get(ctx, []string{ref}, nil); err == nil && len(docs) > 0 {
				return initiativeInfoFromDoc(docs[0])
			}
			return &InitiativeInfo{ID: ref}
		}
		filter := document.And(
			document.Eq(document.MetaType, string(document.KindInitiative)),
			document.Eq(document.MetaRepository, repository),
		)
		if docs, err := s.store.Get(ctx, nil, filter); err == nil {
			for _, d := range docs {
				if strings.EqualFold(d.Metadata().String(document.MetaName), ref) {
					return initiativeInfoFromDoc(d)
				}
			}
		}
	}

	focus, err := s.store.Get(ctx, []string{FocusID(repository)}, nil)
	if err != nil || len(focus) == 0 {
		return nil
	}
	id := focus[0].Metadata().String(document.MetaInitiativeID)
	if id == "" {
		return nil
	}
	if docs, err := s.store.Get(ctx, []string{id}, nil); err == nil && len(docs) > 0 {
		return initiativeInfoFromDoc(docs[0])
	}
	return &InitiativeInfo{ID: id, Name: focus[0].Metadata().String(document.MetaInitiativeName)}
}

// attachContext enriches metadata with branch, commit, and initiative tags.
func (s *MemoryService) attachContext(ctx context.Context, meta document.Metadata, repoPath string, initiative *InitiativeInfo) {
	if s.vcs != nil && repoPath != "" {
		if branch := s.vcs.Branch(ctx, repoPath); branch != "" {
			meta[document.MetaBranch] = branch
		}
		if commit := s.vcs.HeadCommit(ctx, repoPath); commit != "" {
			meta[document.MetaCreatedCommit] = commit
		}
	}
	if initiative != nil {
		meta[document.MetaInitiativeID] = initiative.ID
		if initiative.Name != "" {
			meta[document.MetaInitiativeName] = initiative.Name
		}
	}
}

// touchInitiative bumps the owning initiative's updated_at so staleness
// tracking sees activity.
func (s *MemoryService) touchInitiative(ctx context.Context, initiative *InitiativeInfo) {
	if initiative == nil || initiative.ID == "" {
		return
	}
	docs, err := s.store.Get(ctx, []string{initiative.ID}, nil)
	if err != nil || len(docs) == 0 {
		return
	}
	doc := docs[0]
	meta := doc.Metadata().Clone()
	meta[document.MetaUpdatedAt] = NowStamp()
	if err := s.store.Upsert(ctx, []document.Document{
		document.NewWithEmbedding(doc.ID(), doc.Text(), meta, doc.Embedding()),
	}); err != nil {
		s.log.Warn("touch initiative failed",
			slog.String("initiative", initiative.ID),
			slog.String("error", err.Error()),
		)
	}
}

func initiativeInfoFromDoc(d document.Document) *InitiativeInfo {
	return &InitiativeInfo{
		ID:     d.ID(),
		Name:   d.Metadata().String(document.MetaName),
		Goal:   d.Metadata().String(document.MetaGoal),
		Status: d.Metadata().String(document.MetaStatus),
	}
}

// hashFiles computes md5 hashes for the files that exist under repoPath.
// Missing files are omitted, not rejected.
func hashFiles(repoPath string, files []string) map[string]string {
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) && repoPath != "" {
			abs = filepath.Join(repoPath, f)
		}
		if h, err := walker.ComputeFileHash(abs); err == nil {
			hashes[f] = h
		}
	}
	return hashes
}
