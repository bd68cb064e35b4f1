package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CORTEX_DATA_PATH", dataDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir())
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort())
	assert.Equal(t, filepath.Join(dataDir, "ingest_state.json"), cfg.StateFile())
	assert.Equal(t, ProviderNone, cfg.LLM().PrimaryProvider)
	assert.True(t, cfg.Autocapture().Enabled)
	assert.Equal(t, DefaultMinTokens, cfg.Autocapture().Significance.MinTokens)
	assert.DirExists(t, filepath.Join(dataDir, "db"))
}

func TestLoadConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CORTEX_DATA_PATH", dataDir)

	yaml := `
http_port: 9100
debug: true
code_paths:
  - /tmp/repo
llm:
  primary_provider: anthropic
  fallback_chain: [claude-cli, none]
  providers:
    anthropic:
      model: claude-3-5-haiku-20241022
autocapture:
  enabled: true
  significance:
    min_tokens: 100
runtime:
  min_score: 0.2
  top_k_retrieve: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, ConfigFileName), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort())
	assert.True(t, cfg.Debug())
	assert.Equal(t, []string{"/tmp/repo"}, cfg.CodePaths())
	assert.Equal(t, ProviderAnthropic, cfg.LLM().PrimaryProvider)
	assert.Equal(t, []string{"claude-cli", "none"}, cfg.LLM().FallbackChain)
	assert.Equal(t, 100, cfg.Autocapture().Significance.MinTokens)

	rt := cfg.Runtime().Snapshot()
	assert.Equal(t, 0.2, rt.MinScore)
	assert.Equal(t, 50, rt.TopKRetrieve)
}

func TestEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CORTEX_DATA_PATH", dataDir)
	t.Setenv("CORTEX_HTTP_PORT", "9999")
	t.Setenv("CORTEX_LLM_PROVIDER", "ollama")
	t.Setenv("CORTEX_MIN_SCORE", "0.4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTPPort())
	assert.Equal(t, ProviderOllama, cfg.LLM().PrimaryProvider)
	assert.Equal(t, 0.4, cfg.Runtime().Snapshot().MinScore)
}

func TestRuntimeClamping(t *testing.T) {
	rt := NewRuntime(RuntimeSettings{TopKRetrieve: 5000, TopKRerank: 500})
	s := rt.Snapshot()
	assert.LessOrEqual(t, s.TopKRetrieve, MaxTopKRetrieve)
	assert.LessOrEqual(t, s.TopKRerank, MaxTopKRerank)
}

func TestRuntimeUpdate(t *testing.T) {
	rt := NewRuntime(DefaultRuntimeSettings())
	updated := rt.Update(func(s *RuntimeSettings) {
		s.MinScore = 0.33
		s.Verbose = true
	})
	assert.Equal(t, 0.33, updated.MinScore)
	assert.True(t, rt.Snapshot().Verbose)

	// Snapshot copies must not alias the live multiplier map.
	snap := rt.Snapshot()
	snap.TypeMultipliers["insight"] = 99
	assert.Equal(t, 2.0, rt.Snapshot().TypeMultipliers["insight"])
}
