package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultFetchEngine, cfg.Indexing.FetchEngine)
	assert.Equal(t, DefaultMaxConcurrentIndex, cfg.Indexing.MaxConcurrent)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[paths]
sources = "data/sources"

[indexing]
llm_model = "openai/gpt-4o-mini"
fetch_engine = "httpx"
max_concurrent = 10

[indexing.section_extractions]
llm_model = "anthropic/claude-3-5-haiku"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kurt.toml"), []byte(tomlContent), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "data/sources", cfg.Paths.Sources)
	assert.Equal(t, "httpx", cfg.Indexing.FetchEngine)
	assert.Equal(t, 10, cfg.Indexing.MaxConcurrent)
	assert.Equal(t, dir, cfg.ConfigDir())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultFetchEngine, cfg.Indexing.FetchEngine)
}

func TestEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	tomlContent := "[indexing]\nfetch_engine = \"httpx\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kurt.toml"), []byte(tomlContent), 0o644))

	t.Setenv("KURT_FETCH_ENGINE", "firecrawl")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "firecrawl", cfg.Indexing.FetchEngine)
}

func TestTelemetryDisabledByDoNotTrack(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DO_NOT_TRACK", "1")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestValidateRejectsUnknownFetchEngine(t *testing.T) {
	cfg := Default()
	cfg.Indexing.FetchEngine = "carbon"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch_engine")
}

func TestValidateRejectsBadModelFormat(t *testing.T) {
	cfg := Default()
	cfg.Indexing.LLMModel = "gpt-4o-mini"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider/model")
}

func TestValidateRejectsOutOfRangeConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Indexing.MaxConcurrent = 0
	require.Error(t, cfg.Validate())

	cfg.Indexing.MaxConcurrent = 500
	require.Error(t, cfg.Validate())
}

func TestResolveModelSettingsHierarchy(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[indexing]
llm_model = "openai/gpt-4o-mini"

[indexing.section_extractions]
llm_model = "anthropic/claude-3-5-haiku"
temperature = 0.2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kurt.toml"), []byte(tomlContent), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)

	// step-level override wins
	settings := cfg.ResolveModelSettings("indexing", "section_extractions", nil)
	assert.Equal(t, "anthropic/claude-3-5-haiku", settings.Model)
	require.NotNil(t, settings.Temperature)
	assert.InDelta(t, 0.2, *settings.Temperature, 0.0001)

	// no step override, falls to module-level
	settings = cfg.ResolveModelSettings("indexing", "entity_resolution", nil)
	assert.Equal(t, "openai/gpt-4o-mini", settings.Model)

	// explicit step override wins over everything
	explicit := &ModelSettings{Model: "anthropic/claude-3-opus"}
	settings = cfg.ResolveModelSettings("indexing", "section_extractions", explicit)
	assert.Equal(t, "anthropic/claude-3-opus", settings.Model)
}
