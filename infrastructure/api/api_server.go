// Package api exposes the cortex daemon's HTTP surface: health and info,
// the tool channel, browse/maintenance endpoints, and capture admin.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/scottyroges/cortex/application/service"
	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/task"
	"github.com/scottyroges/cortex/infrastructure/persistence"
	"github.com/scottyroges/cortex/internal/config"
	"github.com/scottyroges/cortex/internal/mcp"
)

// schemaVersion is the current document-store schema generation.
const schemaVersion = 1

// Deps collects everything the HTTP surface dispatches into.
type Deps struct {
	Registry     *mcp.Registry
	Store        service.Store
	Browse       *service.BrowseService
	Capture      *service.CaptureService
	IngestQueue  *service.Queue
	CaptureQueue *service.Queue
	Delta        *persistence.DeltaState
	Config       *config.Config
	Version      string
	Log          *slog.Logger
}

// APIServer serves the daemon's HTTP endpoints.
type APIServer struct {
	deps       Deps
	httpServer *http.Server
	router     chi.Router
	startedAt  time.Time
	logger     *slog.Logger
}

// NewAPIServer wires the HTTP surface. The tool channel shares deps.Registry
// with the MCP stdio transport.
func NewAPIServer(deps Deps) *APIServer {
	logger := deps.Log
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{
		deps:      deps,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("component", "api")),
	}
}

// Handler returns the full route tree for use with custom servers and tests.
func (a *APIServer) Handler() http.Handler {
	if a.router == nil {
		router := chi.NewRouter()
		// No router-wide Timeout: the tool channel can block on model
		// inference. The browse group sets its own in mountRoutes.
		router.Use(chimiddleware.RequestID)
		router.Use(chimiddleware.RealIP)
		router.Use(chimiddleware.Recoverer)
		a.mountRoutes(router)
		a.router = router
	}
	return a.router
}

// ListenAndServe starts the daemon listener and blocks until Shutdown.
func (a *APIServer) ListenAndServe(addr string) error {
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.logger.Info("daemon listening", slog.String("addr", addr))
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (a *APIServer) Shutdown(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	a.logger.Info("stopping daemon listener")
	return a.httpServer.Shutdown(ctx)
}

func (a *APIServer) mountRoutes(router chi.Router) {
	router.Get("/health", a.health)
	router.Get("/info", a.info)

	router.Route("/mcp/tools", func(r chi.Router) {
		r.Get("/list", a.toolList)
		r.Post("/call", a.toolCall)
	})

	// Browse is what the local inspection UI talks to, so it gets CORS.
	router.Route("/browse", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Get("/stats", a.browseStats)
		r.Get("/list", a.browseList)
		r.Get("/get", a.browseGet)
		r.Get("/search", a.browseSearch)
		r.Get("/sample", a.browseSample)
		r.Post("/update", a.browseUpdate)
		r.Post("/delete", a.browseDelete)
		r.Post("/delete-by-type", a.browseDeleteByType)
		r.Post("/cleanup", a.browseCleanup)
		r.Post("/purge", a.browsePurge)
	})

	router.Post("/session-summary", a.sessionSummary)
	router.Post("/process-queue", a.processQueue)
	router.Post("/process-sync", a.processSync)
	router.Get("/autocapture/status", a.autocaptureStatus)
	router.Get("/focused-initiative", a.focusedInitiative)
	router.Get("/ingest-status", a.ingestStatus)
	router.Get("/ingest-status/{task_id}", a.ingestStatusByID)
	router.Post("/admin/backup", a.adminBackup)
	router.Get("/migrations/status", a.migrationsStatus)
}

func (a *APIServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *APIServer) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"git_commit":   a.deps.Config.GitCommit(),
		"build_time":   a.deps.Config.BuildTime(),
		"startup_time": a.startedAt.Format(time.RFC3339),
		"version":      a.deps.Version,
	})
}

func (a *APIServer) toolList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": a.deps.Registry.Schemas()})
}

// toolCall dispatches a registry tool. Tool-level failures stay HTTP 200 so
// hook callers can read the structured error without branching on status.
func (a *APIServer) toolCall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err), a.logger)
		return
	}
	if body.Name == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("name is required"), a.logger)
		return
	}

	result, err := a.deps.Registry.Call(r.Context(), body.Name, body.Arguments)
	if err != nil {
		writeJSON(w, http.StatusOK, errorBody{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *APIServer) browseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deps.Browse.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *APIServer) browseList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := a.deps.Browse.List(r.Context(), q.Get("type"), q.Get("repository"), queryInt(q.Get("limit")))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(items), "documents": items})
}

func (a *APIServer) browseGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("id is required"), a.logger)
		return
	}
	item, err := a.deps.Browse.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *APIServer) browseSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, r, http.StatusUnprocessableEntity, fmt.Errorf("query must not be empty"), a.logger)
		return
	}
	items, err := a.deps.Browse.Search(r.Context(), query, q.Get("type"), q.Get("repository"), queryInt(q.Get("limit")))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(items), "documents": items})
}

func (a *APIServer) browseSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := a.deps.Browse.Sample(r.Context(), q.Get("type"), q.Get("repository"), queryInt(q.Get("n")))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(items), "documents": items})
}

func (a *APIServer) browseUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string         `json:"id"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	if body.ID == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("id is required"), a.logger)
		return
	}
	item, err := a.deps.Browse.Update(r.Context(), body.ID, body.Content, body.Metadata)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *APIServer) browseDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("ids is required"), a.logger)
		return
	}
	n, err := a.deps.Browse.Delete(r.Context(), body.IDs)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (a *APIServer) browseDeleteByType(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type       string `json:"type"`
		Repository string `json:"repository"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	if body.Type == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("type is required"), a.logger)
		return
	}
	n, err := a.deps.Browse.DeleteByType(r.Context(), body.Type, body.Repository)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (a *APIServer) browseCleanup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Repository string `json:"repository"`
		Path       string `json:"path"`
		Execute    bool   `json:"execute"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	report, err := a.deps.Browse.Cleanup(r.Context(), body.Repository, body.Path, body.Execute)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *APIServer) browsePurge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Repository string `json:"repository"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	if body.Repository == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("repository is required"), a.logger)
		return
	}
	n, err := a.deps.Browse.Purge(r.Context(), body.Repository)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// sessionSummary accepts the session-end hook payload. Async mode enqueues
// and returns immediately; sync mode blocks up to the configured timeout and
// falls through to async when the worker does not finish in time.
func (a *APIServer) sessionSummary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		service.CaptureRequest
		Sync bool `json:"sync"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	if body.Transcript == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("transcript is required"), a.logger)
		return
	}
	if !a.deps.Capture.Enabled() {
		writeJSON(w, http.StatusOK, service.CaptureResult{Skipped: true, Reason: "autocapture disabled"})
		return
	}

	taskID, err := a.deps.CaptureQueue.Enqueue(task.KindCapture, body.Repository, body.CaptureRequest.Params())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}

	if body.Sync {
		timeout := a.deps.Config.Autocapture().SyncTimeout
		if timeout <= 0 {
			timeout = config.DefaultSyncTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if t, err := a.deps.CaptureQueue.WaitTerminal(ctx, taskID); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"mode": "sync", "task": t})
			return
		}
		a.logger.Info("sync capture timed out, falling back to async", slog.String("task", taskID))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    "async",
		"task_id": taskID,
		"status":  string(task.StatusQueued),
	})
}

func (a *APIServer) processQueue(w http.ResponseWriter, _ *http.Request) {
	a.deps.IngestQueue.Trigger()
	a.deps.CaptureQueue.Trigger()
	writeJSON(w, http.StatusOK, map[string]int{
		"ingest_pending":  a.deps.IngestQueue.Pending(),
		"capture_pending": a.deps.CaptureQueue.Pending(),
	})
}

// processSync runs capture inline, bypassing the queue entirely.
func (a *APIServer) processSync(w http.ResponseWriter, r *http.Request) {
	var body service.CaptureRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, a.logger)
		return
	}
	result, err := a.deps.Capture.Capture(r.Context(), body)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *APIServer) autocaptureStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":      a.deps.Capture.Enabled(),
		"significance": a.deps.Capture.Significance(),
		"pending":      a.deps.CaptureQueue.Pending(),
	})
}

func (a *APIServer) focusedInitiative(w http.ResponseWriter, r *http.Request) {
	filter := document.Eq(document.MetaType, string(document.KindFocus))
	if repo := r.URL.Query().Get("repository"); repo != "" {
		filter = document.And(filter, document.Eq(document.MetaRepository, repo))
	}
	docs, err := a.deps.Store.Get(r.Context(), nil, filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err, a.logger)
		return
	}
	if len(docs) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Status: "not_found", Error: "no focused initiative"})
		return
	}
	focuses := make([]map[string]string, 0, len(docs))
	for _, d := range docs {
		meta := d.Metadata()
		focuses = append(focuses, map[string]string{
			"repository":      meta.String(document.MetaRepository),
			"initiative_id":   meta.String(document.MetaInitiativeID),
			"initiative_name": meta.String(document.MetaInitiativeName),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"focused": focuses})
}

func (a *APIServer) ingestStatus(w http.ResponseWriter, r *http.Request) {
	tasks := a.deps.IngestQueue.List(r.URL.Query().Get("repository"))
	writeJSON(w, http.StatusOK, map[string]any{"total": len(tasks), "tasks": tasks})
}

func (a *APIServer) ingestStatusByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	t, ok := a.deps.IngestQueue.Status(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Status: "not_found", Error: fmt.Sprintf("task %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// adminBackup copies the database and state files into a timestamped
// directory under <data>/backups.
func (a *APIServer) adminBackup(w http.ResponseWriter, r *http.Request) {
	cfg := a.deps.Config
	dest := filepath.Join(cfg.DataDir(), "backups", time.Now().UTC().Format("20060102-150405"))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("create backup dir: %w", err), a.logger)
		return
	}

	sources := []string{cfg.DBPath(), cfg.StateFile(), cfg.IngestQueueFile(), cfg.CaptureQueueFile()}
	copied := make([]string, 0, len(sources))
	for _, src := range sources {
		if src == "" {
			continue
		}
		target := filepath.Join(dest, filepath.Base(src))
		if err := copyFile(src, target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			writeError(w, r, http.StatusInternalServerError, fmt.Errorf("backup %s: %w", src, err), a.logger)
			return
		}
		copied = append(copied, target)
	}

	a.logger.Info("backup completed", slog.String("dir", dest), slog.Int("files", len(copied)))
	writeJSON(w, http.StatusOK, map[string]any{"backup_dir": dest, "files": copied})
}

func (a *APIServer) migrationsStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"schema_version":        schemaVersion,
		"legacy_state_migrated": a.deps.Delta.Migrated(),
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
