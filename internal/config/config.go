// Package config provides application configuration: defaults, config.yaml,
// and CORTEX_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHTTPPort        = 8900
	DefaultSyncTimeout     = 60 * time.Second
	DefaultMinTokens       = 5000
	DefaultMinFileEdits    = 1
	DefaultMinToolCalls    = 3
	DefaultLLMTimeout      = 120 * time.Second
	ContainerDataPath      = "/app/cortex_data"
	DataDirName            = ".cortex"
	ConfigFileName         = "config.yaml"
	LogFileName            = "daemon.log"
	GlobalIgnoreFileName   = "cortexignore"
	StateFileName          = "ingest_state.json"
	IngestQueueFileName    = "ingest_tasks.json"
	CaptureQueueFileName   = "capture_queue.json"
)

// LLMProvider names recognized in llm.primary_provider and fallback chains.
const (
	ProviderAnthropic  = "anthropic"
	ProviderClaudeCLI  = "claude-cli"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderNone       = "none"
)

// ProviderConfig holds per-provider model settings.
type ProviderConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// LLMConfig selects generation providers and their fallback order.
type LLMConfig struct {
	PrimaryProvider string                    `yaml:"primary_provider"`
	FallbackChain   []string                  `yaml:"fallback_chain"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// SignificanceConfig gates session auto-capture.
type SignificanceConfig struct {
	MinTokens    int `yaml:"min_tokens"`
	MinFileEdits int `yaml:"min_file_edits"`
	MinToolCalls int `yaml:"min_tool_calls"`
}

// AutocaptureConfig controls session auto-capture behavior.
type AutocaptureConfig struct {
	Enabled         bool               `yaml:"enabled"`
	AutoCommitAsync bool               `yaml:"auto_commit_async"`
	SyncTimeout     time.Duration      `yaml:"sync_timeout"`
	Significance    SignificanceConfig `yaml:"significance"`
}

// fileConfig is the config.yaml shape.
type fileConfig struct {
	CodePaths   []string          `yaml:"code_paths"`
	DaemonPort  int               `yaml:"daemon_port"`
	HTTPPort    int               `yaml:"http_port"`
	Debug       bool              `yaml:"debug"`
	LLM         LLMConfig         `yaml:"llm"`
	Autocapture AutocaptureConfig `yaml:"autocapture"`
	Runtime     RuntimeSettings   `yaml:"runtime"`
}

// envConfig is the CORTEX_* environment surface (envconfig tags map field
// names under the CORTEX prefix).
type envConfig struct {
	DataPath       string  `envconfig:"DATA_PATH"`
	DBPath         string  `envconfig:"DB_PATH"`
	StateFile      string  `envconfig:"STATE_FILE"`
	HTTPPort       int     `envconfig:"HTTP_PORT"`
	LogFile        string  `envconfig:"LOG_FILE"`
	Debug          bool    `envconfig:"DEBUG"`
	LLMProvider    string  `envconfig:"LLM_PROVIDER"`
	HeaderProvider string  `envconfig:"HEADER_PROVIDER"`
	MinScore       float64 `envconfig:"MIN_SCORE"`
	Verbose        bool    `envconfig:"VERBOSE"`
	GitCommit      string  `envconfig:"GIT_COMMIT"`
	BuildTime      string  `envconfig:"BUILD_TIME"`
}

// Config is the resolved application configuration.
type Config struct {
	dataDir        string
	dbPath         string
	stateFile      string
	ingestQueue    string
	captureQueue   string
	logFile        string
	httpPort       int
	debug          bool
	codePaths      []string
	llm            LLMConfig
	headerProvider string
	autocapture    AutocaptureConfig
	runtime        *Runtime
	gitCommit      string
	buildTime      string
}

// Load resolves configuration from defaults, <data>/config.yaml, and CORTEX_*
// environment variables, in increasing precedence. A missing config file is
// not an error.
func Load() (*Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	var env envConfig
	if err := envconfig.Process("CORTEX", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	dataDir, err := resolveDataDir(env.DataPath)
	if err != nil {
		return nil, err
	}

	fc := fileConfig{
		HTTPPort: DefaultHTTPPort,
		LLM: LLMConfig{
			PrimaryProvider: ProviderNone,
		},
		Autocapture: AutocaptureConfig{
			Enabled:         true,
			AutoCommitAsync: true,
			SyncTimeout:     DefaultSyncTimeout,
			Significance: SignificanceConfig{
				MinTokens:    DefaultMinTokens,
				MinFileEdits: DefaultMinFileEdits,
				MinToolCalls: DefaultMinToolCalls,
			},
		},
		Runtime: DefaultRuntimeSettings(),
	}

	configPath := filepath.Join(dataDir, ConfigFileName)
	if data, readErr := os.ReadFile(configPath); readErr == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		dataDir:        dataDir,
		dbPath:         filepath.Join(dataDir, "db", "cortex.db"),
		stateFile:      filepath.Join(dataDir, StateFileName),
		ingestQueue:    filepath.Join(dataDir, IngestQueueFileName),
		captureQueue:   filepath.Join(dataDir, CaptureQueueFileName),
		logFile:        filepath.Join(dataDir, LogFileName),
		httpPort:       fc.HTTPPort,
		debug:          fc.Debug,
		codePaths:      fc.CodePaths,
		llm:            fc.LLM,
		headerProvider: env.HeaderProvider,
		autocapture:    fc.Autocapture,
		gitCommit:      env.GitCommit,
		buildTime:      env.BuildTime,
	}
	if fc.DaemonPort != 0 && fc.HTTPPort == DefaultHTTPPort {
		cfg.httpPort = fc.DaemonPort
	}

	// Environment overrides.
	if env.DBPath != "" {
		cfg.dbPath = env.DBPath
	}
	if env.StateFile != "" {
		cfg.stateFile = env.StateFile
	}
	if env.HTTPPort != 0 {
		cfg.httpPort = env.HTTPPort
	}
	if env.LogFile != "" {
		cfg.logFile = env.LogFile
	}
	if env.Debug {
		cfg.debug = true
	}
	if env.LLMProvider != "" {
		cfg.llm.PrimaryProvider = env.LLMProvider
	}

	runtime := fc.Runtime
	if env.MinScore != 0 {
		runtime.MinScore = env.MinScore
	}
	if env.Verbose {
		runtime.Verbose = true
	}
	cfg.runtime = NewRuntime(runtime)

	return cfg, nil
}

// resolveDataDir picks the data directory: explicit override, the container
// path when present and writable, else ~/.cortex. The directory is created.
func resolveDataDir(override string) (string, error) {
	dir := override
	if dir == "" {
		if info, err := os.Stat(ContainerDataPath); err == nil && info.IsDir() && writable(ContainerDataPath) {
			dir = ContainerDataPath
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
			dir = filepath.Join(home, DataDirName)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "db"), 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".cortex_probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return true
}

// DataDir returns the data directory.
func (c *Config) DataDir() string { return c.dataDir }

// DBPath returns the sqlite database path.
func (c *Config) DBPath() string { return c.dbPath }

// StateFile returns the delta-state file path.
func (c *Config) StateFile() string { return c.stateFile }

// IngestQueueFile returns the ingest task queue file path.
func (c *Config) IngestQueueFile() string { return c.ingestQueue }

// CaptureQueueFile returns the capture task queue file path.
func (c *Config) CaptureQueueFile() string { return c.captureQueue }

// LogFile returns the daemon log path.
func (c *Config) LogFile() string { return c.logFile }

// HTTPPort returns the daemon HTTP port.
func (c *Config) HTTPPort() int { return c.httpPort }

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool { return c.debug }

// CodePaths returns the directories watched for changes.
func (c *Config) CodePaths() []string { return c.codePaths }

// LLM returns the generation-provider configuration.
func (c *Config) LLM() LLMConfig { return c.llm }

// HeaderProvider returns the legacy chunk-header provider override.
func (c *Config) HeaderProvider() string { return c.headerProvider }

// Autocapture returns the auto-capture configuration.
func (c *Config) Autocapture() AutocaptureConfig { return c.autocapture }

// Runtime returns the mutable runtime settings handle.
func (c *Config) Runtime() *Runtime { return c.runtime }

// GitCommit returns the build commit injected via environment.
func (c *Config) GitCommit() string { return c.gitCommit }

// BuildTime returns the build timestamp injected via environment.
func (c *Config) BuildTime() string { return c.buildTime }

// GlobalIgnorePath returns the global cortexignore path.
func (c *Config) GlobalIgnorePath() string {
	return filepath.Join(c.dataDir, GlobalIgnoreFileName)
}
