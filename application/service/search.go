package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/domain/search"
	"github.com/scottyroges/cortex/internal/config"
)

// Boost constants. Type multipliers come from runtime settings.
const (
	recencyMinBoost = 0.5
	initiativeBoost = 1.3
	contentTruncate = 2048
)

// Presets resolve to type allow-lists.
var searchPresets = map[string][]string{
	"code":   {"code", "skeleton", "file_metadata", "dependency", "entry_point", "data_contract"},
	"memory": {"note", "insight", "session_summary"},
	"docs":   {"note", "file_metadata", "tech_stack"},
	"all":    nil,
}

// metadataKinds are retained under an explicit initiative filter even when
// untagged, since they describe the repository rather than a workstream.
var metadataKinds = map[document.Kind]bool{
	document.KindCode:         true,
	document.KindSkeleton:     true,
	document.KindFileMetadata: true,
	document.KindDependency:   true,
	document.KindTechStack:    true,
	document.KindDataContract: true,
	document.KindEntryPoint:   true,
}

// BranchDetector resolves the current branch of a checkout.
type BranchDetector interface {
	Branch(ctx context.Context, path string) string
}

// SearchRequest is one query against the hybrid pipeline.
type SearchRequest struct {
	Query            string
	Repository       string
	RepoPath         string
	Branch           string
	Initiative       string
	Types            []string
	Preset           string
	MinScore         *float64
	IncludeCompleted bool
}

// SearchResult is one shaped pipeline result.
type SearchResult struct {
	ID                  string            `json:"id"`
	Content             string            `json:"content"`
	FilePath            string            `json:"file_path,omitempty"`
	Repository          string            `json:"repository,omitempty"`
	Branch              string            `json:"branch,omitempty"`
	Language            string            `json:"language,omitempty"`
	Type                string            `json:"type"`
	Score               float64           `json:"score"`
	CreatedAt           string            `json:"created_at,omitempty"`
	InitiativeID        string            `json:"initiative_id,omitempty"`
	Title               string            `json:"title,omitempty"`
	Staleness           *memory.Staleness `json:"staleness,omitempty"`
	VerificationWarning string            `json:"verification_warning,omitempty"`
}

// SearchSummary aggregates counts over a response.
type SearchSummary struct {
	Total                int `json:"total"`
	VerificationRequired int `json:"verification_required"`
}

// RepositoryContext carries the stable per-repository documents returned
// alongside results.
type RepositoryContext struct {
	TechStack         string          `json:"tech_stack,omitempty"`
	FocusedInitiative *InitiativeInfo `json:"focused_initiative,omitempty"`
}

// InitiativeInfo is the compact initiative shape embedded in responses.
type InitiativeInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Goal   string `json:"goal,omitempty"`
	Status string `json:"status,omitempty"`
}

// SearchResponse is the full pipeline output.
type SearchResponse struct {
	Results            []SearchResult     `json:"results"`
	Summary            SearchSummary      `json:"summary"`
	RepositorySkeleton string             `json:"repository_skeleton,omitempty"`
	RepositoryContext  *RepositoryContext `json:"repository_context,omitempty"`
}

// SearchService runs the hybrid retrieval pipeline: vector + keyword fan-out,
// reciprocal-rank fusion, cross-encoder rerank, boost layers, and staleness
// annotation.
type SearchService struct {
	store     Store
	index     *IndexManager
	reranker  search.Reranker
	staleness *StalenessService
	runtime   *config.Runtime
	branches  BranchDetector
	log       *slog.Logger
}

// NewSearchService wires the pipeline. Reranker and branch detector may be
// nil; the corresponding phases degrade gracefully.
func NewSearchService(
	store Store,
	index *IndexManager,
	reranker search.Reranker,
	staleness *StalenessService,
	runtime *config.Runtime,
	branches BranchDetector,
	log *slog.Logger,
) *SearchService {
	if log == nil {
		log = slog.Default()
	}
	return &SearchService{
		store:     store,
		index:     index,
		reranker:  reranker,
		staleness: staleness,
		runtime:   runtime,
		branches:  branches,
		log:       log.With(slog.String("component", "search")),
	}
}

// Search runs the full pipeline for a request.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return SearchResponse{}, fmt.Errorf("query must not be empty")
	}
	settings := s.runtime.Snapshot()

	// Phase 1: resolve context.
	branch := s.effectiveBranch(ctx, req)
	branchList := branchList(branch)
	boostTarget, explicitInitiative := s.resolveInitiativeContext(ctx, req)

	// Phase 2: build filter.
	filter := buildSearchFilter(req, branchList)

	// Phase 3: hybrid retrieve, vector and keyword arms in parallel.
	var vectorHits, keywordHits []search.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.store.Query(gctx, req.Query, settings.TopKRetrieve, filter)
		if err != nil {
			return fmt.Errorf("vector retrieval: %w", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.index.Search(gctx, req.Query, settings.TopKRetrieve)
		if err != nil {
			return fmt.Errorf("keyword retrieval: %w", err)
		}
		keywordHits = filterHits(hits, filter)
		return nil
	})
	if err := g.Wait(); err != nil {
		return SearchResponse{}, err
	}

	// Phase 4: RRF fusion.
	fused := search.NewFusion().Fuse(vectorHits, keywordHits)

	// Phase 5: rerank.
	ranked := s.rerank(ctx, req.Query, fused, settings.TopKRerank)

	// Phases 6-8: boost layers, re-sorting after each score adjustment.
	if settings.TypeBoost {
		ranked = applyTypeBoost(ranked, settings.TypeMultipliers)
	}
	if settings.RecencyBoost {
		ranked = applyRecencyBoost(ranked, settings.RecencyHalfLifeDays)
	}
	ranked = applyInitiativeScoping(ranked, explicitInitiative, boostTarget)

	// Phase 9: threshold.
	minScore := settings.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	ranked = dropBelow(ranked, minScore)
	if !req.IncludeCompleted {
		ranked = dropCompletedInitiatives(ranked)
	}

	// Phases 10-11: staleness annotation and shaping.
	resp := s.shape(ranked, req.RepoPath, settings)
	s.attachContext(ctx, &resp, req.Repository, branchList)
	return resp, nil
}

func (s *SearchService) effectiveBranch(ctx context.Context, req SearchRequest) string {
	if req.Branch != "" {
		return req.Branch
	}
	if s.branches != nil && req.RepoPath != "" {
		if b := s.branches.Branch(ctx, req.RepoPath); b != "" {
			return b
		}
	}
	return "unknown"
}

// branchList is the set of branches a branch-scoped document may carry:
// the effective branch plus main, unless effective already is a trunk.
func branchList(branch string) []string {
	switch branch {
	case "main", "master", "unknown":
		return []string{branch}
	default:
		return []string{branch, "main"}
	}
}

// resolveInitiativeContext returns the focus-derived boost target and, when
// the request names an initiative, its resolved ID.
func (s *SearchService) resolveInitiativeContext(ctx context.Context, req SearchRequest) (boostTarget, explicit string) {
	if req.Initiative != "" {
		if id := s.lookupInitiative(ctx, req.Repository, req.Initiative); id != "" {
			return "", id
		}
		// Unresolvable names behave like an absent argument.
	}
	if req.Repository == "" {
		return "", ""
	}
	focus, err := s.store.Get(ctx, []string{FocusID(req.Repository)}, nil)
	if err != nil || len(focus) == 0 {
		return "", ""
	}
	return focus[0].Metadata().String(document.MetaInitiativeID), ""
}

// lookupInitiative resolves an id-prefix or a name to an initiative ID.
func (s *SearchService) lookupInitiative(ctx context.Context, repository, ref string) string {
	if strings.HasPrefix(ref, "initiative:") {
		return ref
	}
	filter := document.Eq(document.MetaType, string(document.KindInitiative))
	if repository != "" {
		filter = document.And(filter, document.Eq(document.MetaRepository, repository))
	}
	docs, err := s.store.Get(ctx, nil, filter)
	if err != nil {
		return ""
	}
	for _, d := range docs {
		if strings.HasPrefix(d.ID(), "initiative:"+ref) {
			return d.ID()
		}
		if strings.EqualFold(d.Metadata().String(document.MetaName), ref) {
			return d.ID()
		}
	}
	return ""
}

// buildSearchFilter combines repository, type, and branch constraints.
// Branch-scoped types must carry a branch in the list; cross-branch types
// pass regardless of branch.
func buildSearchFilter(req SearchRequest, branches []string) document.Filter {
	var parts []document.Filter
	if req.Repository != "" {
		parts = append(parts, document.Eq(document.MetaRepository, req.Repository))
	}

	types := req.Types
	if len(types) == 0 && req.Preset != "" {
		types = searchPresets[strings.ToLower(req.Preset)]
	}
	if len(types) > 0 {
		parts = append(parts, document.InStrings(document.MetaType, types))
	}

	parts = append(parts, branchFilter(branches))
	return document.And(parts...)
}

// branchFilter passes cross-branch kinds unconditionally and holds
// branch-scoped kinds to the allowed branch list.
func branchFilter(branches []string) document.Filter {
	allowed := make(map[string]bool, len(branches))
	for _, b := range branches {
		allowed[b] = true
	}
	return document.Func(func(meta document.Metadata) bool {
		if !document.BranchScoped(meta.Kind()) {
			return true
		}
		return allowed[meta.String(document.MetaBranch)]
	})
}

func filterHits(hits []search.Hit, filter document.Filter) []search.Hit {
	if filter == nil {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		if filter.Match(h.Metadata()) {
			kept = append(kept, h)
		}
	}
	return kept
}

func (s *SearchService) rerank(ctx context.Context, query string, hits []search.Hit, topK int) []search.Hit {
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if len(hits) == 0 {
		return hits
	}
	if s.reranker == nil {
		return normalizeScores(hits)
	}
	ranked, err := s.reranker.Rerank(ctx, query, hits, topK)
	if err != nil {
		// Rerank is an ordering refinement; fused order is a usable fallback.
		s.log.Warn("rerank failed, keeping fused order", slog.String("error", err.Error()))
		return normalizeScores(hits)
	}
	return ranked
}

// normalizeScores rescales reciprocal-rank scores so the top hit is 1.0,
// putting the fused fallback on the same scale as reranker output. The
// min-score threshold assumes that scale.
func normalizeScores(hits []search.Hit) []search.Hit {
	max := 0.0
	for _, h := range hits {
		if h.Score() > max {
			max = h.Score()
		}
	}
	if max <= 0 {
		return hits
	}
	out := make([]search.Hit, len(hits))
	for i, h := range hits {
		out[i] = h.WithScore(h.Score() / max)
	}
	return out
}

func applyTypeBoost(hits []search.Hit, multipliers map[string]float64) []search.Hit {
	out := make([]search.Hit, len(hits))
	for i, h := range hits {
		mult := multipliers[string(h.Metadata().Kind())]
		if mult == 0 {
			mult = 1.0
		}
		out[i] = h.WithScore(h.Score() * mult)
	}
	search.SortByScore(out)
	return out
}

// applyRecencyBoost decays note and session-summary scores by age with a
// configurable half life, floored at recencyMinBoost.
func applyRecencyBoost(hits []search.Hit, halfLifeDays float64) []search.Hit {
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	out := make([]search.Hit, len(hits))
	for i, h := range hits {
		kind := h.Metadata().Kind()
		if kind != document.KindNote && kind != document.KindSessionSummary {
			out[i] = h
			continue
		}
		created := h.Metadata().Time(document.MetaCreatedAt)
		if created.IsZero() {
			out[i] = h
			continue
		}
		ageDays := time.Since(created).Hours() / 24
		boost := math.Max(recencyMinBoost, math.Exp(-ageDays/halfLifeDays))
		out[i] = h.WithScore(h.Score() * boost)
	}
	search.SortByScore(out)
	return out
}

// applyInitiativeScoping filters to an explicitly requested initiative (plus
// untagged metadata docs) or boosts documents tagged with the focused one.
func applyInitiativeScoping(hits []search.Hit, explicit, boostTarget string) []search.Hit {
	if explicit != "" {
		kept := make([]search.Hit, 0, len(hits))
		for _, h := range hits {
			tag := h.Metadata().String(document.MetaInitiativeID)
			if tag == explicit || (tag == "" && metadataKinds[h.Metadata().Kind()]) {
				kept = append(kept, h)
			}
		}
		return kept
	}
	if boostTarget == "" {
		return hits
	}
	out := make([]search.Hit, len(hits))
	for i, h := range hits {
		if h.Metadata().String(document.MetaInitiativeID) == boostTarget {
			out[i] = h.WithScore(h.Score() * initiativeBoost)
		} else {
			out[i] = h
		}
	}
	search.SortByScore(out)
	return out
}

func dropBelow(hits []search.Hit, minScore float64) []search.Hit {
	kept := hits[:0]
	for _, h := range hits {
		if h.Score() >= minScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// dropCompletedInitiatives removes initiative documents whose status is
// completed unless the caller asked for them.
func dropCompletedInitiatives(hits []search.Hit) []search.Hit {
	kept := hits[:0]
	for _, h := range hits {
		if h.Metadata().Kind() == document.KindInitiative &&
			h.Metadata().String(document.MetaStatus) == memory.StatusCompleted {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

func (s *SearchService) shape(hits []search.Hit, repoPath string, settings config.RuntimeSettings) SearchResponse {
	resp := SearchResponse{Results: make([]SearchResult, 0, len(hits))}
	checked := 0
	for _, h := range hits {
		meta := h.Metadata()
		result := SearchResult{
			ID:           h.ID(),
			Content:      truncate(h.Text(), contentTruncate),
			FilePath:     meta.String(document.MetaFilePath),
			Repository:   meta.String(document.MetaRepository),
			Branch:       meta.String(document.MetaBranch),
			Language:     meta.String(document.MetaLanguage),
			Type:         string(meta.Kind()),
			Score:        h.Score(),
			CreatedAt:    meta.String(document.MetaCreatedAt),
			InitiativeID: meta.String(document.MetaInitiativeID),
			Title:        meta.String(document.MetaTitle),
		}

		if settings.StalenessCheckEnabled && checked < settings.StalenessCheckLimit && s.staleness != nil {
			switch meta.Kind() {
			case document.KindInsight, document.KindNote, document.KindSessionSummary:
				st := s.staleness.Check(meta, repoPath)
				result.Staleness = &st
				result.VerificationWarning = FormatWarning(st, meta)
				if st.VerificationRequired {
					resp.Summary.VerificationRequired++
				}
				checked++
			}
		}
		resp.Results = append(resp.Results, result)
	}
	resp.Summary.Total = len(resp.Results)
	return resp
}

// attachContext adds the repository skeleton and stable context documents.
func (s *SearchService) attachContext(ctx context.Context, resp *SearchResponse, repository string, branches []string) {
	if repository == "" {
		return
	}
	for _, b := range branches {
		docs, err := s.store.Get(ctx, []string{SkeletonID(repository, b)}, nil)
		if err == nil && len(docs) > 0 {
			resp.RepositorySkeleton = truncate(docs[0].Text(), 4*contentTruncate)
			break
		}
	}

	rc := &RepositoryContext{}
	if docs, err := s.store.Get(ctx, []string{TechStackID(repository)}, nil); err == nil && len(docs) > 0 {
		rc.TechStack = docs[0].Text()
	}
	if focus, err := s.store.Get(ctx, []string{FocusID(repository)}, nil); err == nil && len(focus) > 0 {
		id := focus[0].Metadata().String(document.MetaInitiativeID)
		if docs, err := s.store.Get(ctx, []string{id}, nil); err == nil && len(docs) > 0 {
			rc.FocusedInitiative = &InitiativeInfo{
				ID:     docs[0].ID(),
				Name:   docs[0].Metadata().String(document.MetaName),
				Goal:   docs[0].Metadata().String(document.MetaGoal),
				Status: docs[0].Metadata().String(document.MetaStatus),
			}
		}
	}
	if rc.TechStack != "" || rc.FocusedInitiative != nil {
		resp.RepositoryContext = rc
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
