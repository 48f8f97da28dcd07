package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "famulus.yaml"), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestInitializeMinimalConfig(t *testing.T) {
	t.Setenv("FAMULUS_SKIP_API_KEY_CHECK", "1")
	dir := writeConfig(t, `
defaults:
  llm_provider: anthropic-default
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Built-in defaults survive when YAML leaves sections out
	assert.Equal(t, 10000, cfg.Runtime.QueueSoftCap)
	assert.Equal(t, 5*time.Minute, cfg.Runtime.TaskLease)
	assert.Equal(t, 20, cfg.Memory.ShortWindow)
	assert.Equal(t, 0.7, cfg.Memory.HybridAlpha)
	assert.Equal(t, 30*24*time.Hour, cfg.Memory.MediumTTL)
	assert.Equal(t, 60*time.Second, cfg.Notifications.DedupeWindow)
	assert.Equal(t, 5, cfg.Pollers.EmailBootstrapMax)
	assert.Equal(t, 60*time.Second, cfg.Defaults.ToolTimeout)
	assert.Equal(t, 3, cfg.Defaults.ToolMaxAttempts)

	// Built-in providers are registered
	assert.True(t, cfg.LLMProviderRegistry.Has("anthropic-default"))
	assert.True(t, cfg.LLMProviderRegistry.Has("openai-default"))
}

func TestInitializeUserOverrides(t *testing.T) {
	t.Setenv("FAMULUS_SKIP_API_KEY_CHECK", "1")
	dir := writeConfig(t, `
defaults:
  llm_provider: my-model
  planner_provider: anthropic-default

llm_providers:
  my-model:
    type: local
    model: qwen3
    base_url: http://localhost:11434/v1

runtime:
  queue_soft_cap: 500
  dispatcher_count: 2

memory:
  short_window: 10
  hybrid_alpha: 0.5

tool_servers:
  browser:
    transport:
      type: http
      url: http://localhost:9222/mcp
    index_worthy: [read_page]
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Runtime.QueueSoftCap)
	assert.Equal(t, 2, cfg.Runtime.DispatcherCount)
	// Unset runtime fields keep built-in defaults
	assert.Equal(t, 5*time.Minute, cfg.Runtime.TaskLease)

	assert.Equal(t, 10, cfg.Memory.ShortWindow)
	assert.Equal(t, 0.5, cfg.Memory.HybridAlpha)

	provider, err := cfg.GetLLMProvider("my-model")
	require.NoError(t, err)
	assert.Equal(t, LLMProviderTypeLocal, provider.Type)
	assert.Equal(t, "qwen3", provider.Model)

	server, err := cfg.GetToolServer("browser")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeHTTP, server.Transport.Type)
	assert.Equal(t, []string{"read_page"}, server.IndexWorthy)

	assert.Equal(t, "anthropic-default", cfg.PlannerProvider())
	assert.Equal(t, "my-model", cfg.UtilityProvider())
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("FAMULUS_SKIP_API_KEY_CHECK", "1")
	t.Setenv("TEST_TOOLSRV_URL", "http://tools.internal:8111/mcp")
	dir := writeConfig(t, `
defaults:
  llm_provider: anthropic-default

tool_servers:
  internal:
    transport:
      type: http
      url: "{{.TEST_TOOLSRV_URL}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	server, err := cfg.GetToolServer("internal")
	require.NoError(t, err)
	assert.Equal(t, "http://tools.internal:8111/mcp", server.Transport.URL)
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeValidationFailures(t *testing.T) {
	t.Setenv("FAMULUS_SKIP_API_KEY_CHECK", "1")
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown default provider",
			yaml: `
defaults:
  llm_provider: does-not-exist
`,
			wantErr: "LLM provider not found",
		},
		{
			name: "provider missing model",
			yaml: `
defaults:
  llm_provider: broken
llm_providers:
  broken:
    type: openai
    api_key_env: OPENAI_API_KEY
`,
			wantErr: "field 'model'",
		},
		{
			name: "invalid provider type",
			yaml: `
defaults:
  llm_provider: broken
llm_providers:
  broken:
    type: carrier-pigeon
    model: rocky
    api_key_env: PIGEON_KEY
`,
			wantErr: "invalid field value",
		},
		{
			name: "stdio server without command",
			yaml: `
defaults:
  llm_provider: anthropic-default
tool_servers:
  local:
    transport:
      type: stdio
`,
			wantErr: "transport.command",
		},
		{
			name: "http server without url",
			yaml: `
defaults:
  llm_provider: anthropic-default
tool_servers:
  remote:
    transport:
      type: http
`,
			wantErr: "transport.url",
		},
		{
			name: "unknown masking group",
			yaml: `
defaults:
  llm_provider: anthropic-default
tool_servers:
  remote:
    transport:
      type: http
      url: http://localhost:9000/mcp
    data_masking:
      enabled: true
      pattern_groups: [nonexistent]
`,
			wantErr: "pattern group 'nonexistent' not found",
		},
		{
			name: "hybrid alpha out of range",
			yaml: `
defaults:
  llm_provider: anthropic-default
memory:
  hybrid_alpha: 1.5
`,
			wantErr: "hybrid_alpha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRuntimePoolSize(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.WorkerPoolSize = 8
	assert.Equal(t, 8, cfg.PoolSize())

	cfg.WorkerPoolSize = 120
	assert.Equal(t, 64, cfg.PoolSize(), "derived size clamps to worker_pool_max")

	cfg.WorkerPoolSize = 0
	assert.Greater(t, cfg.PoolSize(), 0)
	assert.LessOrEqual(t, cfg.PoolSize(), 64)
}
