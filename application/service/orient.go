package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/infrastructure/persistence"
)

// Orient thresholds.
const (
	recentWorkLimit      = 5
	recentWorkWindowDays = 7
	trackedCountDrift    = 5
)

// OrientResponse is the session-start context for a repository.
type OrientResponse struct {
	Repository        string              `json:"repository"`
	Branch            string              `json:"branch"`
	Indexed           bool                `json:"indexed"`
	LastIndexed       string              `json:"last_indexed,omitempty"`
	FileCount         int                 `json:"file_count,omitempty"`
	NeedsReindex      bool                `json:"needs_reindex"`
	ReindexReason     string              `json:"reindex_reason,omitempty"`
	Skeleton          string              `json:"skeleton,omitempty"`
	TechStack         string              `json:"tech_stack,omitempty"`
	FocusedInitiative *InitiativeSummary  `json:"focused_initiative,omitempty"`
	StalePrompt       string              `json:"stale_prompt,omitempty"`
	ActiveInitiatives []InitiativeSummary `json:"active_initiatives,omitempty"`
	RecentWork        []TimelineEntry     `json:"recent_work,omitempty"`
	Error             string              `json:"error,omitempty"`
}

// OrientService composes the context an assistant needs at session start.
type OrientService struct {
	store       Store
	delta       *persistence.DeltaState
	vcs         RepositoryVCS
	initiatives *InitiativeService
	log         *slog.Logger
}

func NewOrientService(store Store, delta *persistence.DeltaState, repoVCS RepositoryVCS, initiatives *InitiativeService, log *slog.Logger) *OrientService {
	if log == nil {
		log = slog.Default()
	}
	return &OrientService{
		store:       store,
		delta:       delta,
		vcs:         repoVCS,
		initiatives: initiatives,
		log:         log.With(slog.String("component", "orient")),
	}
}

// Orient inspects the repository at repoPath. Every sub-fetch degrades
// independently; a total failure still returns a usable shape.
func (s *OrientService) Orient(ctx context.Context, repoPath string) OrientResponse {
	resp := OrientResponse{Branch: "unknown"}

	abs, err := filepath.Abs(repoPath)
	if err != nil {
		resp.Error = fmt.Sprintf("resolve path: %v", err)
		return resp
	}
	resp.Repository = filepath.Base(abs)
	if s.vcs != nil && s.vcs.IsRepo(ctx, abs) {
		if b := s.vcs.Branch(ctx, abs); b != "" {
			resp.Branch = b
		}
	}

	state, indexed := s.delta.Repo(resp.Repository)
	resp.Indexed = indexed
	if indexed {
		resp.LastIndexed = state.IndexedAt
		resp.FileCount = len(state.FileHashes)
		resp.NeedsReindex, resp.ReindexReason = s.reindexCheck(ctx, abs, resp.Branch, state)
	}

	s.attachDocuments(ctx, &resp)
	s.attachInitiatives(ctx, &resp)
	s.attachRecentWork(ctx, &resp)
	return resp
}

// reindexCheck compares the live repository against the recorded delta state.
func (s *OrientService) reindexCheck(ctx context.Context, root, branch string, state persistence.RepoState) (bool, string) {
	var reasons []string
	if state.Branch != "" && branch != "unknown" && branch != state.Branch {
		reasons = append(reasons, fmt.Sprintf("Branch changed from %s to %s", state.Branch, branch))
	}
	if s.vcs != nil && state.IndexedAt != "" {
		if n := s.vcs.CommitsSince(ctx, root, state.IndexedAt); n > 0 {
			reasons = append(reasons, fmt.Sprintf("%d new commits since last index", n))
		}
		if tracked := s.vcs.TrackedFileCount(ctx, root); tracked > 0 {
			if drift := tracked - len(state.FileHashes); drift > trackedCountDrift || drift < -trackedCountDrift {
				reasons = append(reasons, fmt.Sprintf("tracked file count changed by %d", drift))
			}
		}
	}
	return len(reasons) > 0, strings.Join(reasons, "; ")
}

// attachDocuments loads the skeleton and tech-stack documents if present.
func (s *OrientService) attachDocuments(ctx context.Context, resp *OrientResponse) {
	ids := []string{SkeletonID(resp.Repository, resp.Branch)}
	if resp.Branch != "main" && resp.Branch != "master" && resp.Branch != "unknown" {
		ids = append(ids, SkeletonID(resp.Repository, "main"))
	}
	for _, id := range ids {
		if docs, err := s.store.Get(ctx, []string{id}, nil); err == nil && len(docs) > 0 {
			resp.Skeleton = docs[0].Text()
			break
		}
	}
	if docs, err := s.store.Get(ctx, []string{TechStackID(resp.Repository)}, nil); err == nil && len(docs) > 0 {
		resp.TechStack = docs[0].Text()
	}
}

// attachInitiatives loads the focus and active initiative list, with a stale
// prompt when the focused initiative has gone quiet.
func (s *OrientService) attachInitiatives(ctx context.Context, resp *OrientResponse) {
	list, err := s.initiatives.List(ctx, resp.Repository, memory.StatusActive)
	if err != nil {
		s.log.Debug("initiative fetch failed", slog.String("error", err.Error()))
		return
	}
	resp.ActiveInitiatives = list.Initiatives
	if list.Focus == nil {
		return
	}
	for i := range list.Initiatives {
		if list.Initiatives[i].ID != list.Focus.ID {
			continue
		}
		focused := list.Initiatives[i]
		resp.FocusedInitiative = &focused
		if focused.Stale {
			resp.StalePrompt = fmt.Sprintf(
				"Focused initiative %q has had no activity for over %d days. Is it still in progress? Complete or re-focus it if not.",
				focused.Name, memory.InitiativeStaleDays,
			)
		}
		return
	}
}

// attachRecentWork samples recent notes and session summaries.
func (s *OrientService) attachRecentWork(ctx context.Context, resp *OrientResponse) {
	docs, err := s.store.Get(ctx, nil, document.And(
		document.Eq(document.MetaRepository, resp.Repository),
		document.InStrings(document.MetaType, []string{
			string(document.KindNote),
			string(document.KindSessionSummary),
		}),
	))
	if err != nil {
		s.log.Debug("recent work fetch failed", slog.String("error", err.Error()))
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -recentWorkWindowDays)
	recent := docs[:0]
	for _, d := range docs {
		if d.CreatedAt().After(cutoff) {
			recent = append(recent, d)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt().After(recent[j].CreatedAt())
	})
	if len(recent) > recentWorkLimit {
		recent = recent[:recentWorkLimit]
	}
	for _, d := range recent {
		resp.RecentWork = append(resp.RecentWork, timelineEntry(d))
	}
}
