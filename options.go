package cortex

import (
	"log/slog"

	"github.com/scottyroges/cortex/domain/search"
	"github.com/scottyroges/cortex/infrastructure/provider"
	"github.com/scottyroges/cortex/internal/config"
)

// clientConfig holds construction-time overrides. Defaults come from
// internal/config.Load.
type clientConfig struct {
	config        *config.Config
	logger        *slog.Logger
	modelDir      string
	textGenerator provider.TextGenerator
	embedder      search.Embedder
	reranker      search.Reranker
	skipLock      bool
	skipWatch     bool
	skipWorkers   bool
}

// Option configures the Client.
type Option func(*clientConfig)

// WithConfig supplies a pre-loaded configuration instead of reading the
// environment and config.yaml.
func WithConfig(cfg *config.Config) Option {
	return func(c *clientConfig) {
		c.config = cfg
	}
}

// WithLogger sets a custom logger. By default the client configures slog
// with the daemon.log rotation from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithModelDir sets where embedding and reranker model files live.
// Defaults to {dataDir}/models.
func WithModelDir(dir string) Option {
	return func(c *clientConfig) {
		c.modelDir = dir
	}
}

// WithTextGenerator overrides the LLM provider chain built from config.
// Used for header generation and session summarization.
func WithTextGenerator(g provider.TextGenerator) Option {
	return func(c *clientConfig) {
		c.textGenerator = g
	}
}

// WithEmbedder sets a custom embedding provider, replacing the built-in
// hugot model.
func WithEmbedder(e search.Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithReranker sets a custom cross-encoder reranker.
func WithReranker(r search.Reranker) Option {
	return func(c *clientConfig) {
		c.reranker = r
	}
}

// WithoutLock skips the data-directory file lock. Tests that share a temp
// directory use this.
func WithoutLock() Option {
	return func(c *clientConfig) {
		c.skipLock = true
	}
}

// WithoutWatcher disables the code-path file watcher even when code_paths
// is configured.
func WithoutWatcher() Option {
	return func(c *clientConfig) {
		c.skipWatch = true
	}
}

// WithoutWorkers skips starting the background queue workers. Callers drain
// queues explicitly.
func WithoutWorkers() Option {
	return func(c *clientConfig) {
		c.skipWorkers = true
	}
}
