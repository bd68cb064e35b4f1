package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
)

// InitiativeSummary is the list/summarize shape for a single initiative.
type InitiativeSummary struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Goal                string `json:"goal,omitempty"`
	Status              string `json:"status"`
	CreatedAt           string `json:"created_at,omitempty"`
	UpdatedAt           string `json:"updated_at,omitempty"`
	CompletedAt         string `json:"completed_at,omitempty"`
	CompletionSummary   string `json:"completion_summary,omitempty"`
	SessionSummaryCount int    `json:"session_summary_count"`
	NoteCount           int    `json:"note_count"`
	Focused             bool   `json:"focused"`
	Stale               bool   `json:"stale,omitempty"`
}

// CreateInitiativeResponse reports the created workstream.
type CreateInitiativeResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Focused bool   `json:"focused"`
}

// ListInitiativesResponse carries initiatives plus the current focus.
type ListInitiativesResponse struct {
	Repository  string              `json:"repository"`
	Total       int                 `json:"total"`
	Initiatives []InitiativeSummary `json:"initiatives"`
	Focus       *InitiativeInfo     `json:"focus,omitempty"`
}

// FocusInitiativeResponse reports the new focus and a recent-context sample.
type FocusInitiativeResponse struct {
	Initiative    InitiativeInfo  `json:"initiative"`
	RecentContext []TimelineEntry `json:"recent_context,omitempty"`
}

// CompleteInitiativeResponse carries the archive stats.
type CompleteInitiativeResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Duration            string `json:"duration"`
	SessionSummaryCount int    `json:"session_summary_count"`
	NoteCount           int    `json:"note_count"`
	InsightCount        int    `json:"insight_count"`
	FocusCleared        bool   `json:"focus_cleared"`
}

// SummarizeInitiativeResponse is the narrative + timeline shape.
type SummarizeInitiativeResponse struct {
	Initiative InitiativeSummary `json:"initiative"`
	Narrative  string            `json:"narrative"`
	Timeline   []TimelineEntry   `json:"timeline"`
}

// TimelineEntry is one tagged document in chronological order.
type TimelineEntry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

const recentContextSample = 5

// InitiativeService owns the initiative and focus documents for a repository.
type InitiativeService struct {
	store Store
	index *IndexManager
	log   *slog.Logger
}

func NewInitiativeService(store Store, index *IndexManager, log *slog.Logger) *InitiativeService {
	if log == nil {
		log = slog.Default()
	}
	return &InitiativeService{
		store: store,
		index: index,
		log:   log.With(slog.String("component", "initiative")),
	}
}

// Create registers a new active initiative and, by default, focuses it.
func (s *InitiativeService) Create(ctx context.Context, repository, name, goal string, autoFocus bool) (CreateInitiativeResponse, error) {
	if strings.TrimSpace(repository) == "" {
		return CreateInitiativeResponse{}, fmt.Errorf("repository must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return CreateInitiativeResponse{}, fmt.Errorf("name must not be empty")
	}

	now := NowStamp()
	meta := document.Metadata{
		document.MetaType:       string(document.KindInitiative),
		document.MetaRepository: repository,
		document.MetaName:       name,
		document.MetaStatus:     memory.StatusActive,
		document.MetaCreatedAt:  now,
		document.MetaUpdatedAt:  now,
	}
	if goal != "" {
		meta[document.MetaGoal] = goal
	}

	id := newID(document.KindInitiative)
	text := name
	if goal != "" {
		text += "\n\n" + goal
	}
	if err := s.store.Upsert(ctx, []document.Document{document.New(id, text, meta)}); err != nil {
		return CreateInitiativeResponse{}, fmt.Errorf("create initiative: %w", err)
	}

	if autoFocus {
		if err := s.writeFocus(ctx, repository, id, name); err != nil {
			return CreateInitiativeResponse{}, err
		}
	}
	s.index.MarkDirty()

	return CreateInitiativeResponse{ID: id, Name: name, Focused: autoFocus}, nil
}

// List returns initiatives for a repository, newest activity first, with
// per-initiative tagged-document counts.
func (s *InitiativeService) List(ctx context.Context, repository, status string) (ListInitiativesResponse, error) {
	docs, err := s.store.Get(ctx, nil, document.And(
		document.Eq(document.MetaType, string(document.KindInitiative)),
		document.Eq(document.MetaRepository, repository),
	))
	if err != nil {
		return ListInitiativesResponse{}, fmt.Errorf("list initiatives: %w", err)
	}

	resp := ListInitiativesResponse{Repository: repository}
	focusedID := s.focusedID(ctx, repository)
	for _, d := range docs {
		st := d.Metadata().String(document.MetaStatus)
		if status != "" && status != "all" && st != status {
			continue
		}
		summary := s.summarize(ctx, d, focusedID)
		resp.Initiatives = append(resp.Initiatives, summary)
	}
	sort.Slice(resp.Initiatives, func(i, j int) bool {
		return resp.Initiatives[i].UpdatedAt > resp.Initiatives[j].UpdatedAt
	})
	resp.Total = len(resp.Initiatives)

	if focusedID != "" {
		if focusDocs, err := s.store.Get(ctx, []string{focusedID}, nil); err == nil && len(focusDocs) > 0 {
			resp.Focus = initiativeInfoFromDoc(focusDocs[0])
		}
	}
	return resp, nil
}

// Focus points the repository's focus document at an initiative.
func (s *InitiativeService) Focus(ctx context.Context, repository, ref string) (FocusInitiativeResponse, error) {
	doc, err := s.find(ctx, repository, ref)
	if err != nil {
		return FocusInitiativeResponse{}, err
	}
	if doc.Metadata().String(document.MetaStatus) == memory.StatusCompleted {
		return FocusInitiativeResponse{}, fmt.Errorf("initiative %q is completed and cannot be focused", doc.Metadata().String(document.MetaName))
	}

	name := doc.Metadata().String(document.MetaName)
	if err := s.writeFocus(ctx, repository, doc.ID(), name); err != nil {
		return FocusInitiativeResponse{}, err
	}

	resp := FocusInitiativeResponse{Initiative: *initiativeInfoFromDoc(doc)}
	tagged, err := s.taggedDocs(ctx, doc.ID())
	if err == nil {
		if len(tagged) > recentContextSample {
			tagged = tagged[len(tagged)-recentContextSample:]
		}
		for _, t := range tagged {
			resp.RecentContext = append(resp.RecentContext, timelineEntry(t))
		}
	}
	return resp, nil
}

// Complete marks an initiative finished and clears the focus if it held it.
func (s *InitiativeService) Complete(ctx context.Context, repository, ref, summary string) (CompleteInitiativeResponse, error) {
	doc, err := s.find(ctx, repository, ref)
	if err != nil {
		return CompleteInitiativeResponse{}, err
	}
	meta := doc.Metadata().Clone()
	if meta.String(document.MetaStatus) == memory.StatusCompleted {
		return CompleteInitiativeResponse{}, fmt.Errorf("initiative %q is already completed", meta.String(document.MetaName))
	}

	now := NowStamp()
	meta[document.MetaStatus] = memory.StatusCompleted
	meta[document.MetaCompletedAt] = now
	meta[document.MetaUpdatedAt] = now
	if summary != "" {
		meta[document.MetaCompletionSummary] = summary
	}
	if err := s.store.Upsert(ctx, []document.Document{
		document.NewWithEmbedding(doc.ID(), doc.Text(), meta, doc.Embedding()),
	}); err != nil {
		return CompleteInitiativeResponse{}, fmt.Errorf("complete initiative: %w", err)
	}

	repo := meta.String(document.MetaRepository)
	focusCleared := false
	if focusDocs, err := s.store.Get(ctx, []string{FocusID(repo)}, nil); err == nil && len(focusDocs) > 0 {
		if focusDocs[0].Metadata().String(document.MetaInitiativeID) == doc.ID() {
			if _, err := s.store.Delete(ctx, []string{FocusID(repo)}, nil); err != nil {
				s.log.Warn("clear focus failed", slog.String("repository", repo), slog.String("error", err.Error()))
			} else {
				focusCleared = true
			}
		}
	}
	s.index.MarkDirty()

	tagged, _ := s.taggedDocs(ctx, doc.ID())
	resp := CompleteInitiativeResponse{
		ID:           doc.ID(),
		Name:         meta.String(document.MetaName),
		Duration:     memory.FormatDuration(meta.Time(document.MetaCreatedAt), meta.Time(document.MetaCompletedAt)),
		FocusCleared: focusCleared,
	}
	for _, t := range tagged {
		switch t.Kind() {
		case document.KindSessionSummary:
			resp.SessionSummaryCount++
		case document.KindNote:
			resp.NoteCount++
		case document.KindInsight:
			resp.InsightCount++
		}
	}
	return resp, nil
}

// Summarize composes a narrative plus a chronological timeline of every
// document tagged with the initiative.
func (s *InitiativeService) Summarize(ctx context.Context, repository, ref string) (SummarizeInitiativeResponse, error) {
	doc, err := s.find(ctx, repository, ref)
	if err != nil {
		return SummarizeInitiativeResponse{}, err
	}
	tagged, err := s.taggedDocs(ctx, doc.ID())
	if err != nil {
		return SummarizeInitiativeResponse{}, fmt.Errorf("summarize initiative: %w", err)
	}

	resp := SummarizeInitiativeResponse{
		Initiative: s.summarize(ctx, doc, s.focusedID(ctx, doc.Metadata().String(document.MetaRepository))),
	}
	for _, t := range tagged {
		resp.Timeline = append(resp.Timeline, timelineEntry(t))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", resp.Initiative.Name, resp.Initiative.Status)
	if resp.Initiative.Goal != "" {
		fmt.Fprintf(&b, "\nGoal: %s", resp.Initiative.Goal)
	}
	fmt.Fprintf(&b, "\n%d session summaries, %d notes across %d tagged documents.",
		resp.Initiative.SessionSummaryCount, resp.Initiative.NoteCount, len(tagged))
	if resp.Initiative.CompletionSummary != "" {
		fmt.Fprintf(&b, "\nOutcome: %s", resp.Initiative.CompletionSummary)
	}
	resp.Narrative = b.String()
	return resp, nil
}

// find resolves an initiative by exact id, "initiative:" prefix, or name
// within the repository.
func (s *InitiativeService) find(ctx context.Context, repository, ref string) (document.Document, error) {
	if ref == "" {
		return document.Document{}, fmt.Errorf("initiative reference must not be empty")
	}
	if strings.HasPrefix(ref, "initiative:") {
		docs, err := s.store.Get(ctx, []string{ref}, nil)
		if err != nil {
			return document.Document{}, fmt.Errorf("find initiative: %w", err)
		}
		if len(docs) == 0 {
			return document.Document{}, fmt.Errorf("initiative %s not found", ref)
		}
		return docs[0], nil
	}
	filter := document.Eq(document.MetaType, string(document.KindInitiative))
	if repository != "" {
		filter = document.And(filter, document.Eq(document.MetaRepository, repository))
	}
	docs, err := s.store.Get(ctx, nil, filter)
	if err != nil {
		return document.Document{}, fmt.Errorf("find initiative: %w", err)
	}
	for _, d := range docs {
		if strings.EqualFold(d.Metadata().String(document.MetaName), ref) {
			return d, nil
		}
	}
	return document.Document{}, fmt.Errorf("initiative %q not found", ref)
}

func (s *InitiativeService) writeFocus(ctx context.Context, repository, initiativeID, name string) error {
	meta := document.Metadata{
		document.MetaType:           string(document.KindFocus),
		document.MetaRepository:     repository,
		document.MetaInitiativeID:   initiativeID,
		document.MetaInitiativeName: name,
	}
	StampWriteTimes(ctx, s.store, FocusID(repository), meta)
	text := "Focused initiative: " + name
	if err := s.store.Upsert(ctx, []document.Document{document.New(FocusID(repository), text, meta)}); err != nil {
		return fmt.Errorf("write focus: %w", err)
	}
	return nil
}

// focusedID returns the focused initiative id for a repository, or "".
func (s *InitiativeService) focusedID(ctx context.Context, repository string) string {
	docs, err := s.store.Get(ctx, []string{FocusID(repository)}, nil)
	if err != nil || len(docs) == 0 {
		return ""
	}
	return docs[0].Metadata().String(document.MetaInitiativeID)
}

// taggedDocs returns documents tagged with the initiative, oldest first.
func (s *InitiativeService) taggedDocs(ctx context.Context, initiativeID string) ([]document.Document, error) {
	docs, err := s.store.Get(ctx, nil, document.Eq(document.MetaInitiativeID, initiativeID))
	if err != nil {
		return nil, err
	}
	// The initiative itself never carries its own tag, but guard anyway.
	filtered := docs[:0]
	for _, d := range docs {
		if d.Kind() != document.KindInitiative && d.Kind() != document.KindFocus {
			filtered = append(filtered, d)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt().Before(filtered[j].CreatedAt())
	})
	return filtered, nil
}

func (s *InitiativeService) summarize(ctx context.Context, d document.Document, focusedID string) InitiativeSummary {
	meta := d.Metadata()
	summary := InitiativeSummary{
		ID:                d.ID(),
		Name:              meta.String(document.MetaName),
		Goal:              meta.String(document.MetaGoal),
		Status:            meta.String(document.MetaStatus),
		CreatedAt:         meta.String(document.MetaCreatedAt),
		UpdatedAt:         meta.String(document.MetaUpdatedAt),
		CompletedAt:       meta.String(document.MetaCompletedAt),
		CompletionSummary: meta.String(document.MetaCompletionSummary),
		Focused:           d.ID() == focusedID,
	}
	if tagged, err := s.taggedDocs(ctx, d.ID()); err == nil {
		for _, t := range tagged {
			switch t.Kind() {
			case document.KindSessionSummary:
				summary.SessionSummaryCount++
			case document.KindNote:
				summary.NoteCount++
			}
		}
	}
	summary.Stale = summary.Status == memory.StatusActive && InitiativeStale(meta.Time(document.MetaUpdatedAt), time.Now().UTC())
	return summary
}

// InitiativeStale reports whether an active initiative has seen no activity
// for longer than the staleness threshold.
func InitiativeStale(updatedAt, now time.Time) bool {
	if updatedAt.IsZero() {
		return false
	}
	return now.Sub(updatedAt) > time.Duration(memory.InitiativeStaleDays)*24*time.Hour
}

func timelineEntry(d document.Document) TimelineEntry {
	return TimelineEntry{
		ID:        d.ID(),
		Type:      string(d.Kind()),
		Title:     d.Metadata().String(document.MetaTitle),
		Content:   truncate(d.Text(), contentTruncate),
		CreatedAt: d.Metadata().String(document.MetaCreatedAt),
	}
}
