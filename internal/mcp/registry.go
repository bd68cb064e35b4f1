// Package mcp exposes the cortex tool registry over the Model Context
// Protocol and over the daemon's HTTP tool channel.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/scottyroges/cortex/application/service"
	"github.com/scottyroges/cortex/domain/document"
	"github.com/scottyroges/cortex/domain/memory"
	"github.com/scottyroges/cortex/domain/task"
	"github.com/scottyroges/cortex/internal/config"
)

// Handler executes one tool call against already-decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Deps collects everything the tool registry dispatches into.
type Deps struct {
	Store       service.Store
	Index       *service.IndexManager
	Search      *service.SearchService
	Memory      *service.MemoryService
	Initiatives *service.InitiativeService
	Orient      *service.OrientService
	Recall      *service.RecallService
	Browse      *service.BrowseService
	Capture     *service.CaptureService
	IngestQueue *service.Queue
	Runtime     *config.Runtime
	Log         *slog.Logger
}

// tool pairs a schema with its handler.
type tool struct {
	schema  mcp.Tool
	handler Handler
}

// Registry is the 12-tool surface the assistant sees. The same registry
// backs both the MCP server and the /mcp/tools HTTP channel.
type Registry struct {
	deps  Deps
	tools map[string]tool
	order []string
	log   *slog.Logger
}

// NewRegistry builds the registry. All dependencies are required except the
// logger.
func NewRegistry(deps Deps) *Registry {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		deps:  deps,
		tools: make(map[string]tool),
		log:   log.With(slog.String("component", "tools")),
	}
	r.register()
	return r
}

// Schemas returns the tool schemas in registration order.
func (r *Registry) Schemas() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].schema)
	}
	return out
}

// Call dispatches a tool by name. Unknown tools and handler failures are
// returned as errors for the transport to shape.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	result, err := t.handler(ctx, args)
	if err != nil {
		r.log.Warn("tool call failed", slog.String("tool", name), slog.String("error", err.Error()))
	}
	return result, err
}

func (r *Registry) add(schema mcp.Tool, handler Handler) {
	r.tools[schema.Name] = tool{schema: schema, handler: handler}
	r.order = append(r.order, schema.Name)
}

func (r *Registry) register() {
	r.add(mcp.NewTool("orient_session",
		mcp.WithDescription("Get session-start context for a repository: index state, skeleton, tech stack, focused initiative, and recent work"),
		mcp.WithString("project_path", mcp.Required(), mcp.Description("Absolute path to the repository checkout")),
	), r.handleOrient)

	r.add(mcp.NewTool("search_cortex",
		mcp.WithDescription("Hybrid keyword+vector search over code and memories with reranking, boosting, and staleness annotation"),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithString("repository", mcp.Description("Restrict to one repository")),
		mcp.WithString("branch", mcp.Description("Branch for branch-scoped documents; auto-detected when omitted")),
		mcp.WithString("initiative", mcp.Description("Initiative id or name to filter by")),
		mcp.WithString("preset", mcp.Description("Type preset: code, memory, docs, or all")),
		mcp.WithArray("types", mcp.Description("Explicit document-type allow-list")),
		mcp.WithNumber("min_score", mcp.Description("Score threshold override")),
		mcp.WithBoolean("include_completed", mcp.Description("Include completed initiatives")),
		mcp.WithString("project_path", mcp.Description("Checkout path used for branch detection and staleness checks")),
	), r.handleSearch)

	r.add(mcp.NewTool("recall_recent_work",
		mcp.WithDescription("Replay recent notes and session summaries as a grouped-by-day timeline"),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository to recall")),
		mcp.WithNumber("days", mcp.Description("Window in days (default 7)")),
		mcp.WithBoolean("include_code", mcp.Description("Include code chunks in the timeline")),
	), r.handleRecall)

	r.add(mcp.NewTool("get_skeleton",
		mcp.WithDescription("Get the current directory-tree skeleton document for a repository"),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("branch", mcp.Description("Branch (falls back to main, then unknown)")),
	), r.handleSkeleton)

	r.add(mcp.NewTool("manage_initiative",
		mcp.WithDescription("Create, list, focus, complete, or summarize multi-session initiatives"),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of create, list, focus, complete, summarize")),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository the initiative belongs to")),
		mcp.WithString("name", mcp.Description("Initiative name (create)")),
		mcp.WithString("goal", mcp.Description("Initiative goal (create)")),
		mcp.WithBoolean("auto_focus", mcp.Description("Focus the new initiative immediately (create, default true)")),
		mcp.WithString("initiative", mcp.Description("Initiative id or name (focus, complete, summarize)")),
		mcp.WithString("summary", mcp.Description("Completion summary (complete)")),
		mcp.WithString("status", mcp.Description("Status filter: all, active, completed (list)")),
	), r.handleInitiative)

	r.add(mcp.NewTool("save_memory",
		mcp.WithDescription("Save a note or a file-anchored insight"),
		mcp.WithString("content", mcp.Required(), mcp.Description("The memory content")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("note or insight")),
		mcp.WithString("title", mcp.Description("Short title")),
		mcp.WithArray("tags", mcp.Description("Free-form tags")),
		mcp.WithArray("files", mcp.Description("Files the insight is anchored to (required for insights)")),
		mcp.WithString("repository", mcp.Description("Repository; resolved from context when omitted")),
		mcp.WithString("initiative", mcp.Description("Initiative id or name; defaults to the current focus")),
		mcp.WithString("project_path", mcp.Description("Checkout path used for hashing and commit capture")),
	), r.handleSaveMemory)

	r.add(mcp.NewTool("conclude_session",
		mcp.WithDescription("Store an end-of-session summary and detect initiative completion signals"),
		mcp.WithString("summary", mcp.Required(), mcp.Description("What the session accomplished")),
		mcp.WithArray("changed_files", mcp.Required(), mcp.Description("Files changed during the session")),
		mcp.WithString("repository", mcp.Description("Repository; resolved from context when omitted")),
		mcp.WithString("initiative", mcp.Description("Initiative id or name; defaults to the current focus")),
		mcp.WithString("project_path", mcp.Description("Checkout path used for branch and commit capture")),
	), r.handleConcludeSession)

	r.add(mcp.NewTool("ingest_codebase",
		mcp.WithDescription("Index a source tree asynchronously, or check an ingest task's progress"),
		mcp.WithString("action", mcp.Required(), mcp.Description("ingest or status")),
		mcp.WithString("path", mcp.Description("Tree to index (ingest)")),
		mcp.WithString("repository", mcp.Description("Repository name; defaults to the path basename")),
		mcp.WithBoolean("force_full", mcp.Description("Rescan everything, ignoring delta state")),
		mcp.WithString("task_id", mcp.Description("Task to inspect (status)")),
	), r.handleIngest)

	r.add(mcp.NewTool("validate_insight",
		mcp.WithDescription("Record an insight validation outcome, optionally deprecating and replacing it"),
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("The insight document id")),
		mcp.WithString("validation_result", mcp.Required(), mcp.Description("still_valid, partially_valid, or no_longer_valid")),
		mcp.WithString("notes", mcp.Description("Validation notes")),
		mcp.WithBoolean("deprecate", mcp.Description("Mark a no-longer-valid insight deprecated")),
		mcp.WithString("replacement_insight", mcp.Description("Content for a replacement insight")),
		mcp.WithString("project_path", mcp.Description("Checkout path used for hash re-anchoring")),
	), r.handleValidateInsight)

	r.add(mcp.NewTool("configure_cortex",
		mcp.WithDescription("Adjust runtime settings, set the repository tech stack, toggle autocapture, or read current status"),
		mcp.WithBoolean("get_status", mcp.Description("Return the current configuration")),
		mcp.WithNumber("min_score", mcp.Description("Search score threshold")),
		mcp.WithBoolean("verbose", mcp.Description("Verbose search responses")),
		mcp.WithBoolean("recency_boost", mcp.Description("Enable recency boosting")),
		mcp.WithBoolean("type_boost", mcp.Description("Enable type boosting")),
		mcp.WithBoolean("staleness_check_enabled", mcp.Description("Enable staleness annotation")),
		mcp.WithBoolean("autocapture_enabled", mcp.Description("Toggle session auto-capture")),
		mcp.WithString("tech_stack", mcp.Description("Tech-stack description to store for the repository")),
		mcp.WithString("repository", mcp.Description("Repository for tech_stack")),
	), r.handleConfigure)

	r.add(mcp.NewTool("cleanup_storage",
		mcp.WithDescription("Find code documents whose files no longer exist, and optionally delete them"),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository to scan")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Checkout path to verify against")),
		mcp.WithString("action", mcp.Required(), mcp.Description("preview or execute")),
	), r.handleCleanup)

	r.add(mcp.NewTool("delete_document",
		mcp.WithDescription("Hard-delete one document by id"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("The document id")),
	), r.handleDelete)
}

func (r *Registry) handleOrient(ctx context.Context, args map[string]any) (any, error) {
	path := argString(args, "project_path")
	if path == "" {
		return nil, fmt.Errorf("project_path is required")
	}
	return r.deps.Orient.Orient(ctx, path), nil
}

func (r *Registry) handleSearch(ctx context.Context, args map[string]any) (any, error) {
	query := argString(args, "query")
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	req := service.SearchRequest{
		Query:            query,
		Repository:       argString(args, "repository"),
		RepoPath:         argString(args, "project_path"),
		Branch:           argString(args, "branch"),
		Initiative:       argString(args, "initiative"),
		Types:            argStringSlice(args, "types"),
		Preset:           argString(args, "preset"),
		IncludeCompleted: argBool(args, "include_completed"),
	}
	if v, ok := argFloat(args, "min_score"); ok {
		req.MinScore = &v
	}
	return r.deps.Search.Search(ctx, req)
}

func (r *Registry) handleRecall(ctx context.Context, args map[string]any) (any, error) {
	repo := argString(args, "repository")
	if repo == "" {
		return nil, fmt.Errorf("repository is required")
	}
	return r.deps.Recall.Recall(ctx, service.RecallRequest{
		Repository:  repo,
		Days:        argInt(args, "days"),
		IncludeCode: argBool(args, "include_code"),
	})
}

func (r *Registry) handleSkeleton(ctx context.Context, args map[string]any) (any, error) {
	repo := argString(args, "repository")
	if repo == "" {
		return nil, fmt.Errorf("repository is required")
	}
	branches := []string{argString(args, "branch"), "main", "unknown"}
	for _, b := range branches {
		if b == "" {
			continue
		}
		docs, err := r.deps.Store.Get(ctx, []string{service.SkeletonID(repo, b)}, nil)
		if err != nil {
			return nil, fmt.Errorf("load skeleton: %w", err)
		}
		if len(docs) > 0 {
			return map[string]any{
				"repository":  repo,
				"branch":      b,
				"skeleton":    docs[0].Text(),
				"total_files": docs[0].Metadata().Int(document.MetaTotalFiles),
				"total_dirs":  docs[0].Metadata().Int(document.MetaTotalDirs),
			}, nil
		}
	}
	return nil, fmt.Errorf("no skeleton indexed for %s", repo)
}

func (r *Registry) handleInitiative(ctx context.Context, args map[string]any) (any, error) {
	action := argString(args, "action")
	repo := argString(args, "repository")
	if repo == "" {
		return nil, fmt.Errorf("repository is required")
	}
	switch action {
	case "create":
		autoFocus := true
		if v, ok := args["auto_focus"].(bool); ok {
			autoFocus = v
		}
		return r.deps.Initiatives.Create(ctx, repo, argString(args, "name"), argString(args, "goal"), autoFocus)
	case "list":
		status := argString(args, "status")
		if status == "" {
			status = "all"
		}
		return r.deps.Initiatives.List(ctx, repo, status)
	case "focus":
		return r.deps.Initiatives.Focus(ctx, repo, argString(args, "initiative"))
	case "complete":
		return r.deps.Initiatives.Complete(ctx, repo, argString(args, "initiative"), argString(args, "summary"))
	case "summarize":
		return r.deps.Initiatives.Summarize(ctx, repo, argString(args, "initiative"))
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func (r *Registry) handleSaveMemory(ctx context.Context, args map[string]any) (any, error) {
	req := service.SaveMemoryRequest{
		Content:    argString(args, "content"),
		Title:      argString(args, "title"),
		Tags:       argStringSlice(args, "tags"),
		Files:      argStringSlice(args, "files"),
		Repository: argString(args, "repository"),
		RepoPath:   argString(args, "project_path"),
		Initiative: argString(args, "initiative"),
	}
	switch argString(args, "kind") {
	case "note":
		return r.deps.Memory.SaveNote(ctx, req)
	case "insight":
		return r.deps.Memory.SaveInsight(ctx, req)
	default:
		return nil, fmt.Errorf("kind must be note or insight")
	}
}

func (r *Registry) handleConcludeSession(ctx context.Context, args map[string]any) (any, error) {
	return r.deps.Memory.ConcludeSession(ctx, service.ConcludeSessionRequest{
		Summary:      argString(args, "summary"),
		ChangedFiles: argStringSlice(args, "changed_files"),
		Repository:   argString(args, "repository"),
		RepoPath:     argString(args, "project_path"),
		Initiative:   argString(args, "initiative"),
	})
}

func (r *Registry) handleIngest(ctx context.Context, args map[string]any) (any, error) {
	switch argString(args, "action") {
	case "ingest":
		path := argString(args, "path")
		if path == "" {
			return nil, fmt.Errorf("path is required for ingest")
		}
		repo := argString(args, "repository")
		id, err := r.deps.IngestQueue.Enqueue(task.KindIngest, repo, map[string]any{
			"path":       path,
			"repository": repo,
			"force_full": argBool(args, "force_full"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": id, "status": string(task.StatusQueued)}, nil
	case "status":
		id := argString(args, "task_id")
		if id == "" {
			return nil, fmt.Errorf("task_id is required for status")
		}
		t, ok := r.deps.IngestQueue.Status(id)
		if !ok {
			return map[string]any{"status": "not_found", "error": fmt.Sprintf("task %s not found", id)}, nil
		}
		return t, nil
	default:
		return nil, fmt.Errorf("action must be ingest or status")
	}
}

func (r *Registry) handleValidateInsight(ctx context.Context, args map[string]any) (any, error) {
	return r.deps.Memory.ValidateInsight(ctx, service.ValidateInsightRequest{
		InsightID:          argString(args, "insight_id"),
		Result:             memory.ValidationResult(argString(args, "validation_result")),
		Notes:              argString(args, "notes"),
		Deprecate:          argBool(args, "deprecate"),
		ReplacementInsight: argString(args, "replacement_insight"),
		RepoPath:           argString(args, "project_path"),
	})
}

func (r *Registry) handleConfigure(ctx context.Context, args map[string]any) (any, error) {
	updated := false
	settings := r.deps.Runtime.Update(func(s *config.RuntimeSettings) {
		if v, ok := argFloat(args, "min_score"); ok {
			s.MinScore = v
			updated = true
		}
		for key, target := range map[string]*bool{
			"verbose":                 &s.Verbose,
			"recency_boost":           &s.RecencyBoost,
			"type_boost":              &s.TypeBoost,
			"staleness_check_enabled": &s.StalenessCheckEnabled,
		} {
			if v, ok := args[key].(bool); ok {
				*target = v
				updated = true
			}
		}
	})

	if v, ok := args["autocapture_enabled"].(bool); ok {
		r.deps.Capture.SetEnabled(v)
		updated = true
	}

	if stack := argString(args, "tech_stack"); stack != "" {
		repo := argString(args, "repository")
		if repo == "" {
			return nil, fmt.Errorf("repository is required to set tech_stack")
		}
		meta := document.Metadata{
			document.MetaType:       string(document.KindTechStack),
			document.MetaRepository: repo,
		}
		service.StampWriteTimes(ctx, r.deps.Store, service.TechStackID(repo), meta)
		if err := r.deps.Store.Upsert(ctx, []document.Document{
			document.New(service.TechStackID(repo), stack, meta),
		}); err != nil {
			return nil, fmt.Errorf("store tech stack: %w", err)
		}
		r.deps.Index.MarkDirty()
		updated = true
	}

	return map[string]any{
		"updated":             updated,
		"runtime":             settings,
		"autocapture_enabled": r.deps.Capture.Enabled(),
	}, nil
}

func (r *Registry) handleCleanup(ctx context.Context, args map[string]any) (any, error) {
	action := argString(args, "action")
	if action != "preview" && action != "execute" {
		return nil, fmt.Errorf("action must be preview or execute")
	}
	return r.deps.Browse.Cleanup(ctx,
		argString(args, "repository"),
		argString(args, "path"),
		action == "execute",
	)
}

func (r *Registry) handleDelete(ctx context.Context, args map[string]any) (any, error) {
	id := argString(args, "document_id")
	if id == "" {
		return nil, fmt.Errorf("document_id is required")
	}
	n, err := r.deps.Browse.Delete(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return map[string]any{"status": "not_found", "error": fmt.Sprintf("document %s not found", id)}, nil
	}
	return map[string]any{"deleted": n}, nil
}

// Argument extraction over the decoded JSON arguments map.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func argInt(args map[string]any, key string) int {
	if v, ok := argFloat(args, key); ok {
		return int(v)
	}
	return 0
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func argStringSlice(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
