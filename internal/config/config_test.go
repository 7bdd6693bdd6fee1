package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, DepthDetailed, cfg.Agent.ResearchDepth)
	assert.Equal(t, "llama3", cfg.Providers.Ollama.Model)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	data := `
provider: openai
agent:
  max_iterations: 5
  research_depth: quick
providers:
  openai:
    model: gpt-4o
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("KESTREL_PROVIDER", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, DepthQuick, cfg.Agent.ResearchDepth)
	assert.Equal(t, "gpt-4o", cfg.Providers.OpenAI.Model)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")

	for name, body := range map[string]string{
		"bad provider":   "provider: cohere\n",
		"bad depth":      "agent:\n  research_depth: medium\n",
		"bad iterations": "agent:\n  max_iterations: 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestQueryTarget(t *testing.T) {
	assert.Equal(t, 3, QueryTarget(DepthQuick))
	assert.Equal(t, 5, QueryTarget(DepthDetailed))
	assert.Equal(t, 8, QueryTarget(DepthExhaustive))
	assert.Equal(t, 5, QueryTarget("unknown"))
}

func TestCompactModeDetection(t *testing.T) {
	cfg := Default()

	cfg.Providers.Ollama.Model = "llama3"
	assert.False(t, cfg.CompactMode())

	cfg.Providers.Ollama.Model = "phi3:mini"
	assert.True(t, cfg.CompactMode())

	// Explicit override beats detection.
	off := false
	cfg.Agent.CompactMode = &off
	assert.False(t, cfg.CompactMode())

	on := true
	cfg.Agent.CompactMode = &on
	cfg.Providers.Ollama.Model = "llama3"
	assert.True(t, cfg.CompactMode())
}

func TestCompactModeScalesLimits(t *testing.T) {
	cfg := Default()
	on := true
	cfg.Agent.CompactMode = &on

	assert.Equal(t, 2000, cfg.MaxContentChars())
	assert.Equal(t, 2, cfg.MaxPagesToExtract())
	assert.Equal(t, 2000, cfg.MaxReportTokens())
	assert.Equal(t, 500, cfg.MaxAnalysisTokens())

	off := false
	cfg.Agent.CompactMode = &off
	assert.Equal(t, 6000, cfg.MaxContentChars())
	assert.Equal(t, 3, cfg.MaxPagesToExtract())
}
