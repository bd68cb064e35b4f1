// Package cortex provides a local, privacy-first semantic memory service
// for coding assistants.
//
// Cortex indexes source trees with delta sync, stores notes and insights
// alongside code chunks, and answers hybrid BM25+vector queries with
// reranking and staleness annotation.
//
// Basic usage:
//
//	client, err := cortex.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Search.Search(ctx, service.SearchRequest{
//	    Query:      "how do we refresh auth tokens",
//	    Repository: "gateway",
//	})
package cortex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"gorm.io/gorm"

	"github.com/scottyroges/cortex/application/service"
	"github.com/scottyroges/cortex/domain/task"
	"github.com/scottyroges/cortex/infrastructure/chunking"
	"github.com/scottyroges/cortex/infrastructure/persistence"
	"github.com/scottyroges/cortex/infrastructure/provider"
	"github.com/scottyroges/cortex/infrastructure/skeleton"
	"github.com/scottyroges/cortex/infrastructure/vcs"
	"github.com/scottyroges/cortex/infrastructure/walker"
	"github.com/scottyroges/cortex/internal/config"
	"github.com/scottyroges/cortex/internal/log"
	"github.com/scottyroges/cortex/internal/mcp"
	"github.com/scottyroges/cortex/internal/watch"
)

// ErrClientClosed is returned by Close when the client is already closed.
var ErrClientClosed = fmt.Errorf("cortex: client already closed")

// Client is the main entry point. Background workers start automatically
// unless disabled with WithoutWorkers.
type Client struct {
	Search       *service.SearchService
	Memory       *service.MemoryService
	Initiatives  *service.InitiativeService
	Orient       *service.OrientService
	Recall       *service.RecallService
	Browse       *service.BrowseService
	Capture      *service.CaptureService
	Ingest       *service.IngestService
	IngestTasks  *service.Queue
	CaptureTasks *service.Queue

	cfg      *config.Config
	db       *gorm.DB
	store    *persistence.DocumentStore
	delta    *persistence.DeltaState
	index    *service.IndexManager
	registry *mcp.Registry
	watcher  *watch.Watcher
	lock     *flock.Flock
	embedder *provider.HugotEmbedder
	logger   *slog.Logger
	cancel   context.CancelFunc
	closed   atomic.Bool
}

// New creates a Client from the environment, config.yaml, and any options.
func New(opts ...Option) (*Client, error) {
	var cc clientConfig
	for _, opt := range opts {
		opt(&cc)
	}

	cfg := cc.config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded
	}

	logger := cc.logger
	if logger == nil {
		logger = log.Configure(log.Options{
			Debug:   cfg.Debug(),
			LogFile: cfg.LogFile(),
		})
	}

	client := &Client{cfg: cfg, logger: logger}

	// One daemon per data directory.
	if !cc.skipLock {
		lock := flock.New(filepath.Join(cfg.DataDir(), "cortex.lock"))
		held, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire data directory lock: %w", err)
		}
		if !held {
			return nil, fmt.Errorf("data directory %s is locked by another cortex instance", cfg.DataDir())
		}
		client.lock = lock
	}

	if err := walker.EnsureGlobalIgnoreFile(cfg.GlobalIgnorePath()); err != nil {
		logger.Warn("global ignore file", slog.String("error", err.Error()))
	}

	db, err := persistence.Open(cfg.DBPath(), logger)
	if err != nil {
		client.releaseLock()
		return nil, fmt.Errorf("open store: %w", err)
	}
	client.db = db

	embedder := cc.embedder
	if embedder == nil {
		modelDir := cc.modelDir
		if modelDir == "" {
			modelDir = filepath.Join(cfg.DataDir(), "models")
		}
		hugotEmbedder := provider.NewHugotEmbedder(modelDir)
		if hugotEmbedder.Available() {
			embedder = hugotEmbedder
			client.embedder = hugotEmbedder
			logger.Info("embedding model loaded", slog.String("model_dir", modelDir))
		} else {
			logger.Warn("no embedding model found, vector retrieval disabled",
				slog.String("model_dir", modelDir))
		}
	}

	reranker := cc.reranker
	if reranker == nil && cc.modelDir != "" {
		hugotReranker := provider.NewHugotReranker(cc.modelDir)
		if hugotReranker.Available() {
			reranker = hugotReranker
		}
	}
	if reranker == nil && client.embedder != nil {
		hugotReranker := provider.NewHugotReranker(filepath.Join(cfg.DataDir(), "models"))
		if hugotReranker.Available() {
			reranker = hugotReranker
		}
	}

	client.store = persistence.NewDocumentStore(db, embedder, logger)
	client.index = service.NewIndexManager(client.store, logger)

	delta, err := persistence.LoadDeltaState(cfg.StateFile(), logger)
	if err != nil {
		_ = client.closeDB()
		client.releaseLock()
		return nil, fmt.Errorf("load delta state: %w", err)
	}
	client.delta = delta

	ingestStore, err := persistence.LoadTaskStore(cfg.IngestQueueFile(), logger)
	if err != nil {
		_ = client.closeDB()
		client.releaseLock()
		return nil, fmt.Errorf("load ingest queue: %w", err)
	}
	captureStore, err := persistence.LoadTaskStore(cfg.CaptureQueueFile(), logger)
	if err != nil {
		_ = client.closeDB()
		client.releaseLock()
		return nil, fmt.Errorf("load capture queue: %w", err)
	}

	git := vcs.New(logger)
	fileWalker := walker.New(logger)
	chunker, err := chunking.NewChunker(chunking.DefaultChunkParams())
	if err != nil {
		_ = client.closeDB()
		client.releaseLock()
		return nil, fmt.Errorf("build chunker: %w", err)
	}
	skel := &skeleton.Generator{}

	generator := cc.textGenerator
	if generator == nil {
		generator = buildProviderChain(cfg.LLM(), logger)
	}
	var headers *provider.HeaderProvider
	if generator != nil {
		headers = provider.NewHeaderProvider(generator, logger)
	}

	staleness := service.NewStalenessService(cfg.Runtime(), logger)
	client.Search = service.NewSearchService(client.store, client.index, reranker, staleness, cfg.Runtime(), git, logger)
	client.Memory = service.NewMemoryService(client.store, client.index, git, logger)
	client.Initiatives = service.NewInitiativeService(client.store, client.index, logger)
	client.Recall = service.NewRecallService(client.store, logger)
	client.Browse = service.NewBrowseService(client.store, client.index, logger)
	client.Orient = service.NewOrientService(client.store, delta, git, client.Initiatives, logger)
	client.Ingest = service.NewIngestService(client.store, client.index, delta, fileWalker, git, chunker, headers, skel, logger)
	client.Capture = service.NewCaptureService(client.Memory, generator, cfg.Autocapture(), logger)

	client.IngestTasks = service.NewQueue("ingest", ingestStore, client.runIngestTask, logger)
	client.CaptureTasks = service.NewQueue("capture", captureStore, client.runCaptureTask, logger)

	client.registry = mcp.NewRegistry(mcp.Deps{
		Store:       client.store,
		Index:       client.index,
		Search:      client.Search,
		Memory:      client.Memory,
		Initiatives: client.Initiatives,
		Orient:      client.Orient,
		Recall:      client.Recall,
		Browse:      client.Browse,
		Capture:     client.Capture,
		IngestQueue: client.IngestTasks,
		Runtime:     cfg.Runtime(),
		Log:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	client.cancel = cancel

	if !cc.skipWorkers {
		client.IngestTasks.Start(ctx)
		client.CaptureTasks.Start(ctx)
	}

	if !cc.skipWatch && len(cfg.CodePaths()) > 0 {
		watcher, err := watch.New(client.IngestTasks, cfg.CodePaths(), logger)
		if err != nil {
			logger.Warn("file watcher disabled", slog.String("error", err.Error()))
		} else {
			client.watcher = watcher
			watcher.Start(ctx)
		}
	}

	return client, nil
}

// Close stops workers and releases the store and data-directory lock.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.embedder != nil {
		if err := provider.ShutdownORT(); err != nil {
			c.logger.Warn("shutdown onnx runtime", slog.String("error", err.Error()))
		}
	}
	if err := c.closeDB(); err != nil {
		c.releaseLock()
		return err
	}
	c.releaseLock()
	c.logger.Info("cortex client closed")
	return nil
}

// Config returns the effective configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Registry returns the tool registry shared by MCP and HTTP transports.
func (c *Client) Registry() *mcp.Registry {
	return c.registry
}

// Store returns the document store.
func (c *Client) Store() service.Store {
	return c.store
}

// Delta returns the ingestion delta state.
func (c *Client) Delta() *persistence.DeltaState {
	return c.delta
}

// runIngestTask executes one queued ingest job.
func (c *Client) runIngestTask(ctx context.Context, t task.Task, progress func(processed, total int)) (map[string]any, error) {
	path, _ := t.Params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("ingest task %s has no path", t.TaskID)
	}
	repository, _ := t.Params["repository"].(string)

	stats, err := c.Ingest.Ingest(ctx, service.IngestRequest{
		Root:       path,
		Repository: repository,
		ForceFull:  t.ForceFull,
		Progress:   progress,
	})
	if err != nil {
		return nil, err
	}
	return statsResult(stats)
}

// runCaptureTask executes one queued session capture.
func (c *Client) runCaptureTask(ctx context.Context, t task.Task, _ func(processed, total int)) (map[string]any, error) {
	req, err := service.CaptureRequestFromParams(t.Params)
	if err != nil {
		return nil, err
	}
	result, err := c.Capture.Capture(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode capture result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode capture result: %w", err)
	}
	return out, nil
}

func statsResult(stats service.IngestStats) (map[string]any, error) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encode ingest stats: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ingest stats: %w", err)
	}
	return out, nil
}

func (c *Client) closeDB() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("resolve store connection: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (c *Client) releaseLock() {
	if c.lock != nil {
		_ = c.lock.Unlock()
	}
}

// buildProviderChain assembles the text-generation fallback chain from the
// LLM configuration. Providers that cannot be constructed are skipped.
func buildProviderChain(llm config.LLMConfig, logger *slog.Logger) provider.TextGenerator {
	names := make([]string, 0, 1+len(llm.FallbackChain))
	if llm.PrimaryProvider != "" {
		names = append(names, llm.PrimaryProvider)
	}
	names = append(names, llm.FallbackChain...)
	if len(names) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(names))
	var links []provider.TextGenerator
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if link := buildProvider(name, llm.Providers[name]); link != nil {
			links = append(links, link)
		} else {
			logger.Warn("unknown LLM provider in config", slog.String("provider", name))
		}
	}
	if len(links) == 0 {
		return nil
	}
	if len(links) == 1 {
		if _, isNone := links[0].(provider.NoneProvider); isNone {
			return nil
		}
	}
	return provider.NewChain(logger, links...)
}

func buildProvider(name string, pc config.ProviderConfig) provider.TextGenerator {
	switch name {
	case config.ProviderAnthropic:
		var opts []provider.AnthropicOption
		if pc.Model != "" {
			opts = append(opts, provider.WithAnthropicModel(pc.Model))
		}
		return provider.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"), opts...)
	case config.ProviderClaudeCLI:
		return provider.NewClaudeCLIProvider()
	case config.ProviderOllama:
		var opts []provider.OpenAICompatOption
		if pc.Model != "" {
			opts = append(opts, provider.WithCompatModel(pc.Model))
		}
		if pc.BaseURL != "" {
			opts = append(opts, provider.WithCompatBaseURL(pc.BaseURL))
		}
		return provider.NewOllamaProvider(opts...)
	case config.ProviderOpenRouter:
		var opts []provider.OpenAICompatOption
		if pc.Model != "" {
			opts = append(opts, provider.WithCompatModel(pc.Model))
		}
		if pc.BaseURL != "" {
			opts = append(opts, provider.WithCompatBaseURL(pc.BaseURL))
		}
		return provider.NewOpenRouterProvider(os.Getenv("OPENROUTER_API_KEY"), opts...)
	case config.ProviderNone:
		return provider.NoneProvider{}
	}
	return nil
}
