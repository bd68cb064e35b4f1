package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/scottyroges/cortex/domain/document"
)

// RecallRequest selects which recent work to replay.
type RecallRequest struct {
	Repository  string
	Days        int
	IncludeCode bool
}

// RecallDay is one day of activity, newest items first.
type RecallDay struct {
	Date  string          `json:"date"`
	Count int             `json:"count"`
	Items []TimelineEntry `json:"items"`
}

// RecallResponse is the grouped-by-day timeline.
type RecallResponse struct {
	Repository string      `json:"repository"`
	Days       int         `json:"days"`
	TotalItems int         `json:"total_items"`
	Timeline   []RecallDay `json:"timeline"`
}

const defaultRecallDays = 7

// RecallService replays recent notes and session summaries as a timeline.
type RecallService struct {
	store Store
	log   *slog.Logger
}

func NewRecallService(store Store, log *slog.Logger) *RecallService {
	if log == nil {
		log = slog.Default()
	}
	return &RecallService{store: store, log: log.With(slog.String("component", "recall"))}
}

// Recall groups the repository's recent memory documents by calendar day,
// newest day first.
func (s *RecallService) Recall(ctx context.Context, req RecallRequest) (RecallResponse, error) {
	days := req.Days
	if days <= 0 {
		days = defaultRecallDays
	}

	types := []string{
		string(document.KindNote),
		string(document.KindSessionSummary),
	}
	if req.IncludeCode {
		types = append(types, string(document.KindCode))
	}
	filter := document.InStrings(document.MetaType, types)
	if req.Repository != "" {
		filter = document.And(filter, document.Eq(document.MetaRepository, req.Repository))
	}
	docs, err := s.store.Get(ctx, nil, filter)
	if err != nil {
		return RecallResponse{}, fmt.Errorf("recall recent work: %w", err)
	}

	resp := RecallResponse{Repository: req.Repository, Days: days}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	byDay := make(map[string][]document.Document)
	for _, d := range docs {
		created := d.CreatedAt()
		if created.IsZero() || created.Before(cutoff) {
			continue
		}
		key := created.Format("2006-01-02")
		byDay[key] = append(byDay[key], d)
	}

	dates := make([]string, 0, len(byDay))
	for date := range byDay {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	for _, date := range dates {
		items := byDay[date]
		sort.Slice(items, func(i, j int) bool {
			return items[i].CreatedAt().After(items[j].CreatedAt())
		})
		day := RecallDay{Date: date, Count: len(items)}
		for _, d := range items {
			day.Items = append(day.Items, timelineEntry(d))
		}
		resp.Timeline = append(resp.Timeline, day)
		resp.TotalItems += len(items)
	}
	return resp, nil
}
