package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/domain/search"
)

func newSearchFixture(t *testing.T) (*memStore, *SearchService) {
	t.Helper()
	store := newMemStore()
	index := NewIndexManager(store, testLogger())
	runtime := testRuntime()
	staleness := NewStalenessService(runtime, testLogger())
	svc := NewSearchService(store, index, nil, staleness, runtime, nil, testLogger())
	return store, svc
}

func seedDoc(t *testing.T, store *memStore, id, text string, meta document.Metadata) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), []document.Document{
		document.New(id, text, meta),
	}))
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	_, svc := newSearchFixture(t)
	_, err := svc.Search(context.Background(), SearchRequest{Query: "  "})
	require.Error(t, err)
}

func TestSearchFindsMatchingDocuments(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "note:aaaa0001", "JWT validation uses RS256 keys", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(1),
	})
	seedDoc(t, store, "note:aaaa0002", "database migration ordering", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "JWT RS256"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "note:aaaa0001", resp.Results[0].ID)
	assert.Equal(t, resp.Summary.Total, len(resp.Results))
}

func TestSearchRepositoryAndTypeFilters(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "note:bbbb0001", "auth token refresh", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(1),
	})
	seedDoc(t, store, "insight:bbbb0002", "auth token refresh quirk", document.Metadata{
		document.MetaType:       string(document.KindInsight),
		document.MetaRepository: "web",
		document.MetaCreatedAt:  stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:      "auth token",
		Repository: "api",
		Types:      []string{"note"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "note:bbbb0001", resp.Results[0].ID)
}

func TestSearchBranchScoping(t *testing.T) {
	store, svc := newSearchFixture(t)
	code := func(id, branch string) {
		seedDoc(t, store, id, "parse configuration file", document.Metadata{
			document.MetaType:       string(document.KindCode),
			document.MetaRepository: "api",
			document.MetaBranch:     branch,
			document.MetaCreatedAt:  stamp(1),
		})
	}
	code("api:cfg.go:0", "main")
	code("api:cfg.go:1", "feature/config")

	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:      "parse configuration",
		Repository: "api",
		Branch:     "feature/config",
	})
	require.NoError(t, err)
	// Both the feature branch and main are visible from a feature checkout.
	assert.Len(t, resp.Results, 2)

	resp, err = svc.Search(context.Background(), SearchRequest{
		Query:      "parse configuration",
		Repository: "api",
		Branch:     "main",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "api:cfg.go:0", resp.Results[0].ID)
}

func TestSearchTypeBoostFavorsInsights(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "code:cccc0001", "retry backoff logic", document.Metadata{
		document.MetaType:      string(document.KindTechStack),
		document.MetaCreatedAt: stamp(1),
	})
	seedDoc(t, store, "insight:cccc0002", "retry backoff logic", document.Metadata{
		document.MetaType:      string(document.KindInsight),
		document.MetaCreatedAt: stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "retry backoff"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	// Insight carries a 2.0 multiplier against tech_stack's 1.2.
	assert.Equal(t, "insight:cccc0002", resp.Results[0].ID)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestSearchRecencyPrefersNewNotes(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "note:dddd0001", "cache invalidation approach", document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(300),
	})
	seedDoc(t, store, "note:dddd0002", "cache invalidation approach", document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(0),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "cache invalidation"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "note:dddd0002", resp.Results[0].ID)
}

func TestSearchExplicitInitiativeFilters(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "initiative:eeee0001", "Auth Refactoring", document.Metadata{
		document.MetaType:       string(document.KindInitiative),
		document.MetaRepository: "api",
		document.MetaName:       "Auth Refactoring",
		document.MetaStatus:     memory.StatusActive,
	})
	seedDoc(t, store, "note:eeee0002", "login flow decision", document.Metadata{
		document.MetaType:         string(document.KindNote),
		document.MetaRepository:   "api",
		document.MetaCreatedAt:    stamp(1),
		document.MetaInitiativeID: "initiative:eeee0001",
	})
	seedDoc(t, store, "note:eeee0003", "login flow alternative", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:      "login flow",
		Repository: "api",
		Initiative: "Auth Refactoring",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "note:eeee0002", resp.Results[0].ID)
}

func TestSearchFocusBoost(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "api:focus", "Focused initiative: Auth", document.Metadata{
		document.MetaType:         string(document.KindFocus),
		document.MetaRepository:   "api",
		document.MetaInitiativeID: "initiative:ffff0001",
	})
	seedDoc(t, store, "note:ffff0002", "session handling gotcha", document.Metadata{
		document.MetaType:         string(document.KindNote),
		document.MetaRepository:   "api",
		document.MetaCreatedAt:    stamp(1),
		document.MetaInitiativeID: "initiative:ffff0001",
	})
	seedDoc(t, store, "note:ffff0003", "session handling gotcha", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:      "session handling",
		Repository: "api",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "note:ffff0002", resp.Results[0].ID)
	assert.InDelta(t, initiativeBoost, resp.Results[0].Score/resp.Results[1].Score, 0.05)
}

func TestSearchMinScoreThreshold(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "note:gggg0001", "unrelated content entirely", document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(1),
	})

	high := 1000.0
	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:    "unrelated content",
		MinScore: &high,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchCompletedInitiativesHidden(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, "initiative:hhhh0001", "Payments migration workstream", document.Metadata{
		document.MetaType:      string(document.KindInitiative),
		document.MetaName:      "Payments migration",
		document.MetaStatus:    memory.StatusCompleted,
		document.MetaCreatedAt: stamp(10),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "payments migration"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = svc.Search(context.Background(), SearchRequest{
		Query:            "payments migration",
		IncludeCompleted: true,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearchStalenessAnnotation(t *testing.T) {
	store, svc := newSearchFixture(t)
	meta := document.Metadata{
		document.MetaType:       string(document.KindInsight),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(120),
		document.MetaVerifiedAt: stamp(120),
	}
	seedDoc(t, store, "insight:iiii0001", "connection pool sizing insight", meta)

	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:      "connection pool sizing",
		Repository: "api",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Staleness)
	assert.Equal(t, memory.StalenessPossiblyStale, resp.Results[0].Staleness.Level)
	assert.Contains(t, resp.Results[0].VerificationWarning, "POSSIBLY OUTDATED")
	assert.Equal(t, 1, resp.Summary.VerificationRequired)
}

func TestSearchAttachesRepositoryContext(t *testing.T) {
	store, svc := newSearchFixture(t)
	seedDoc(t, store, SkeletonID("api", "main"), "cmd/\ninternal/\n", document.Metadata{
		document.MetaType:       string(document.KindSkeleton),
		document.MetaRepository: "api",
		document.MetaBranch:     "main",
	})
	seedDoc(t, store, TechStackID("api"), "Go 1.25, chi, gorm", document.Metadata{
		document.MetaType:       string(document.KindTechStack),
		document.MetaRepository: "api",
	})
	seedDoc(t, store, "note:jjjj0001", "routing middleware order", document.Metadata{
		document.MetaType:       string(document.KindNote),
		document.MetaRepository: "api",
		document.MetaCreatedAt:  stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{
		Query:      "routing middleware",
		Repository: "api",
		Branch:     "main",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.RepositorySkeleton, "cmd/")
	require.NotNil(t, resp.RepositoryContext)
	assert.Contains(t, resp.RepositoryContext.TechStack, "chi")
}

func TestSearchContentTruncation(t *testing.T) {
	store, svc := newSearchFixture(t)
	long := "long body "
	for len(long) < 3*contentTruncate {
		long += long
	}
	seedDoc(t, store, "note:kkkk0001", long, document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: time.Now().UTC().Format(time.RFC3339),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "long body"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Len(t, resp.Results[0].Content, contentTruncate)
}

// failingReranker always errors; the pipeline must keep the fused order.
type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []search.Hit, int) ([]search.Hit, error) {
	return nil, assert.AnError
}

func TestSearchRerankFailureKeepsFusedOrder(t *testing.T) {
	store := newMemStore()
	index := NewIndexManager(store, testLogger())
	runtime := testRuntime()
	svc := NewSearchService(store, index, failingReranker{}, NewStalenessService(runtime, testLogger()), runtime, nil, testLogger())

	seedDoc(t, store, "note:llll0001", "graceful shutdown sequence", document.Metadata{
		document.MetaType:      string(document.KindNote),
		document.MetaCreatedAt: stamp(1),
	})

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "graceful shutdown"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}
