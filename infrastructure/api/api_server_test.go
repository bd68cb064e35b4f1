package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/application/service"
	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/search"
	"github.com/scottyroges/cortex/domain/task"
	"github.com/scottyroges/cortex/infrastructure/persistence"
	"github.com/scottyroges/cortex/internal/config"
	"github.com/scottyroges/cortex/internal/mcp"
)

type memStore struct {
	mu   sync.Mutex
	docs map[string]document.Document
}

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
	if ids != nil {
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
	var out []search.Hit
	for _, d := range m.docs {
		if filter != nil && !filter.Match(d.Metadata()) {
			continue
		}
		if strings.Contains(strings.ToLower(d.Text()), strings.ToLower(text)) {
			out = append(out, search.NewHit(d.ID(), d.Text(), d.Metadata(), 1.0))
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, ids []string, filter document.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	if ids != nil {
		for _, id := range ids {
			if _, ok := m.docs[id]; ok {
				delete(m.docs, id)
				n++
			}
		}
		return n, nil
	}
	for id, d := range m.docs {
		if filter == nil || filter.Match(d.Metadata()) {
			delete(m.docs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Count(_ context.Context, filter document.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.docs {
		if filter == nil || filter.Match(d.Metadata()) {
			n++
		}
	}
	return n, nil
}

type fixture struct {
	server  *APIServer
	store   *memStore
	capture *service.CaptureService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("CORTEX_DATA_PATH", t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)

	log := slog.New(slog.DiscardHandler)
	store := newMemStore()
	index := service.NewIndexManager(store, log)
	mem := service.NewMemoryService(store, index, nil, log)
	initiatives := service.NewInitiativeService(store, index, log)
	browse := service.NewBrowseService(store, index, log)
	recall := service.NewRecallService(store, log)
	capture := service.NewCaptureService(mem, nil, cfg.Autocapture(), log)

	delta, err := persistence.LoadDeltaState(cfg.StateFile(), log)
	require.NoError(t, err)

	noop := func(context.Context, task.Task, func(int, int)) (map[string]any, error) {
		return nil, nil
	}
	ingestStore, err := persistence.LoadTaskStore(cfg.IngestQueueFile(), log)
	require.NoError(t, err)
	captureStore, err := persistence.LoadTaskStore(cfg.CaptureQueueFile(), log)
	require.NoError(t, err)
	ingestQueue := service.NewQueue("ingest", ingestStore, noop, log)
	captureQueue := service.NewQueue("capture", captureStore, noop, log)

	registry := mcp.NewRegistry(mcp.Deps{
		Store:       store,
		Index:       index,
		Memory:      mem,
		Initiatives: initiatives,
		Browse:      browse,
		Recall:      recall,
		Capture:     capture,
		IngestQueue: ingestQueue,
		Runtime:     cfg.Runtime(),
		Log:         log,
	})

	server := NewAPIServer(Deps{
		Registry:     registry,
		Store:        store,
		Browse:       browse,
		Capture:      capture,
		IngestQueue:  ingestQueue,
		CaptureQueue: captureQueue,
		Delta:        delta,
		Config:       cfg,
		Version:      "test",
		Log:          log,
	})
	return &fixture{server: server, store: store, capture: capture}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, "test", payload["version"])
	assert.NotEmpty(t, payload["startup_time"])
}

func TestToolList(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/mcp/tools/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tools := decode(t, w)["tools"].([]any)
	assert.Len(t, tools, 12)
}

func TestToolCallSaveMemory(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/mcp/tools/call", map[string]any{
		"name": "save_memory",
		"arguments": map[string]any{
			"kind":       "note",
			"content":    "Postgres pooling is capped at 20 connections",
			"repository": "gateway",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.True(t, strings.HasPrefix(payload["id"].(string), "note:"))
}

func TestToolCallErrorStaysHTTP200(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/mcp/tools/call", map[string]any{
		"name":      "save_memory",
		"arguments": map[string]any{"kind": "wishlist", "content": "x"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, "error", payload["status"])
	assert.Contains(t, payload["error"], "note or insight")
}

func TestToolCallMissingName(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/mcp/tools/call", map[string]any{"arguments": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBrowseSearchEmptyQuery(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/browse/search", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBrowseListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, []document.Document{
		document.New("note:11112222", "remember the cache TTL", document.Metadata{
			document.MetaType:       string(document.KindNote),
			document.MetaRepository: "gateway",
			document.MetaCreatedAt:  "2026-08-25T10:00:00Z",
		}),
	}))

	w := f.do(t, http.MethodGet, "/browse/list?type=note", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = f.do(t, http.MethodGet, "/browse/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(1), stats["total_documents"])
}

func TestBrowseDeleteRequiresIDs(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/browse/delete", map[string]any{"ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionSummaryDisabled(t *testing.T) {
	f := newFixture(t)
	f.capture.SetEnabled(false)
	w := f.do(t, http.MethodPost, "/session-summary", map[string]any{
		"session_id": "s1",
		"transcript": "did some work",
	})
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, true, payload["skipped"])
	assert.Equal(t, "autocapture disabled", payload["reason"])
}

func TestSessionSummaryAsyncEnqueues(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/session-summary", map[string]any{
		"session_id": "s2",
		"transcript": "long session transcript",
		"repository": "gateway",
	})
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, "async", payload["mode"])
	assert.True(t, strings.HasPrefix(payload["task_id"].(string), "capture:"))
}

func TestProcessQueueReportsPending(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/process-queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, float64(0), payload["ingest_pending"])
}

func TestAutocaptureStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/autocapture/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, true, payload["enabled"])
}

func TestFocusedInitiativeNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/focused-initiative", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFocusedInitiativeAfterCreate(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/mcp/tools/call", map[string]any{
		"name": "manage_initiative",
		"arguments": map[string]any{
			"action":     "create",
			"repository": "gateway",
			"name":       "Auth Refactoring",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/focused-initiative?repository=gateway", nil)
	require.Equal(t, http.StatusOK, w.Code)
	focused := decode(t, w)["focused"].([]any)
	require.Len(t, focused, 1)
	assert.Equal(t, "Auth Refactoring", focused[0].(map[string]any)["initiative_name"])
}

func TestIngestStatusUnknownTask(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/ingest-status/ingest:deadbeef", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["status"])
}

func TestAdminBackup(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/admin/backup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	dir := payload["backup_dir"].(string)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMigrationsStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/migrations/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode(t, w)
	assert.Equal(t, float64(1), payload["schema_version"])
	assert.Equal(t, false, payload["legacy_state_migrated"])
}
