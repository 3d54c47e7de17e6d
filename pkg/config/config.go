// Package config loads kurt.toml, applies environment overrides via
// .env and the process environment, and resolves per-step model
// settings through the step > module > global > default hierarchy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/boringdata/kurt/pkg/kurterrors"
)

// Default values, mirrored from the reference implementation so a
// fresh project behaves the same with no kurt.toml at all.
const (
	DefaultDBPath                    = ".kurt/kurt.db"
	DefaultSourcesPath               = "sources"
	DefaultProjectsPath              = "projects"
	DefaultRulesPath                 = "rules"
	DefaultWorkflowsPath             = "workflows"
	DefaultIndexingLLMModel          = "anthropic/claude-3-5-haiku"
	DefaultAnswerLLMModel            = "anthropic/claude-3-5-sonnet"
	DefaultEmbeddingModel            = "openai/text-embedding-3-small"
	DefaultFetchEngine               = "trafilatura"
	DefaultMaxConcurrentIndex        = 50
	DefaultClaimSimilarityThreshold  = 0.88
)

// ValidFetchEngines lists the fetch engine names accepted in
// configuration.
var ValidFetchEngines = []string{"trafilatura", "httpx", "firecrawl", "tavily"}

// Paths groups the directories a Kurt project reads from and writes
// to, all relative to the directory containing kurt.toml unless
// already absolute.
type Paths struct {
	DB        string `toml:"db"`
	Sources   string `toml:"sources"`
	Projects  string `toml:"projects"`
	Rules     string `toml:"rules"`
	Workflows string `toml:"workflows"`
}

// Indexing groups settings for the document ingestion pipeline: the
// LLM used for section/entity extraction, the embedding model used
// for claim clustering, the default fetch engine, and the concurrency
// cap (MaxConcurrent, which Validate bounds to 1..200; no sub-task
// queue in this module reads it).
type Indexing struct {
	LLMModel              string  `toml:"llm_model"`
	EmbeddingModel        string  `toml:"embedding_model"`
	FetchEngine           string  `toml:"fetch_engine"`
	MaxConcurrent         int     `toml:"max_concurrent"`
	ClaimSimilarityThresh float64 `toml:"claim_similarity_threshold"`
}

// Answer groups settings for the retrieval-facing LLM, kept separate
// from Indexing because answer quality and indexing throughput pull
// in different directions (bigger model, lower concurrency).
type Answer struct {
	LLMModel string `toml:"llm_model"`
}

// Telemetry controls whether anonymous usage metrics are emitted.
// Disabled by DO_NOT_TRACK or KURT_TELEMETRY_DISABLED regardless of
// what kurt.toml says.
type Telemetry struct {
	Enabled bool `toml:"enabled"`
}

// Config is the fully resolved project configuration: kurt.toml
// values overridden by environment variables, with defaults filled
// in for anything neither source sets.
type Config struct {
	configDir string

	Paths     Paths     `toml:"paths"`
	Indexing  Indexing  `toml:"indexing"`
	Answer    Answer    `toml:"answer"`
	Telemetry Telemetry `toml:"telemetry"`

	CloudAuth   bool   `toml:"cloud_auth"`
	WorkspaceID string `toml:"workspace_id"`
	DatabaseURL string `toml:"database_url"`

	// raw holds the unstructured TOML document, used by
	// ResolveModelSettings to look up [indexing.<step>] overrides that
	// don't have a fixed field on this struct.
	raw map[string]any
}

// Default returns a Config with every field set to its documented
// default, as if no kurt.toml existed.
func Default() *Config {
	return &Config{
		Paths: Paths{
			DB:        DefaultDBPath,
			Sources:   DefaultSourcesPath,
			Projects:  DefaultProjectsPath,
			Rules:     DefaultRulesPath,
			Workflows: DefaultWorkflowsPath,
		},
		Indexing: Indexing{
			LLMModel:             DefaultIndexingLLMModel,
			EmbeddingModel:       DefaultEmbeddingModel,
			FetchEngine:          DefaultFetchEngine,
			MaxConcurrent:        DefaultMaxConcurrentIndex,
			ClaimSimilarityThresh: DefaultClaimSimilarityThreshold,
		},
		Answer: Answer{
			LLMModel: DefaultAnswerLLMModel,
		},
		Telemetry: Telemetry{Enabled: true},
		raw:       map[string]any{},
	}
}

// Load reads kurt.toml from configDir (falling back to defaults if the
// file doesn't exist), then applies a .env file in the same directory
// and the process environment on top. configDir becomes the base for
// resolving relative paths.
func Load(configDir string) (*Config, error) {
	cfg := Default()
	cfg.configDir = configDir

	tomlPath := filepath.Join(configDir, "kurt.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		if _, decodeErr := toml.DecodeFile(tomlPath, cfg); decodeErr != nil {
			return nil, kurterrors.NewConfigurationError(tomlPath, decodeErr.Error())
		}
		if _, decodeErr := toml.DecodeFile(tomlPath, &cfg.raw); decodeErr != nil {
			return nil, kurterrors.NewConfigurationError(tomlPath, decodeErr.Error())
		}
		cfg.configDir = configDir
	} else if !os.IsNotExist(err) {
		return nil, kurterrors.NewConfigurationError(tomlPath, err.Error())
	}

	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, kurterrors.NewConfigurationError(envPath, err.Error())
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers process-environment values on top of
// whatever kurt.toml set. KURT_-prefixed variables map to struct
// fields; DO_NOT_TRACK and KURT_TELEMETRY_DISABLED force telemetry
// off regardless of any other setting.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("KURT_DB_PATH"); ok {
		cfg.Paths.DB = v
	}
	if v, ok := os.LookupEnv("KURT_SOURCES_PATH"); ok {
		cfg.Paths.Sources = v
	}
	if v, ok := os.LookupEnv("KURT_INDEXING_LLM_MODEL"); ok {
		cfg.Indexing.LLMModel = v
	}
	if v, ok := os.LookupEnv("KURT_ANSWER_LLM_MODEL"); ok {
		cfg.Answer.LLMModel = v
	}
	if v, ok := os.LookupEnv("KURT_EMBEDDING_MODEL"); ok {
		cfg.Indexing.EmbeddingModel = v
	}
	if v, ok := os.LookupEnv("KURT_FETCH_ENGINE"); ok {
		cfg.Indexing.FetchEngine = v
	}
	if v, ok := os.LookupEnv("KURT_MAX_CONCURRENT_INDEXING"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.MaxConcurrent = n
		}
	}
	if v, ok := os.LookupEnv("KURT_DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("KURT_WORKSPACE_ID"); ok {
		cfg.WorkspaceID = v
	}
	if isTruthy(os.Getenv("DO_NOT_TRACK")) || isTruthy(os.Getenv("KURT_TELEMETRY_DISABLED")) {
		cfg.Telemetry.Enabled = false
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// ConfigDir returns the directory Load resolved relative paths
// against.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// AbsPath resolves one of the Paths fields against ConfigDir.
func (c *Config) AbsPath(relOrAbs string) string {
	if filepath.IsAbs(relOrAbs) {
		return relOrAbs
	}
	return filepath.Join(c.configDir, relOrAbs)
}

// Validate checks that a loaded Config is internally consistent:
// the fetch engine is known, concurrency is in range, and the LLM
// model strings follow the provider/model convention.
func (c *Config) Validate() error {
	if err := validateFetchEngine(c.Indexing.FetchEngine); err != nil {
		return err
	}
	if c.Indexing.MaxConcurrent < 1 || c.Indexing.MaxConcurrent > 200 {
		return kurterrors.NewValidationError("indexing.max_concurrent",
			fmt.Sprintf("must be between 1 and 200, got %d", c.Indexing.MaxConcurrent))
	}
	if err := validateModelFormat("indexing.llm_model", c.Indexing.LLMModel); err != nil {
		return err
	}
	if err := validateModelFormat("answer.llm_model", c.Answer.LLMModel); err != nil {
		return err
	}
	if err := validateModelFormat("indexing.embedding_model", c.Indexing.EmbeddingModel); err != nil {
		return err
	}
	return nil
}

func validateFetchEngine(engine string) error {
	for _, valid := range ValidFetchEngines {
		if engine == valid {
			return nil
		}
	}
	return kurterrors.NewValidationError("indexing.fetch_engine",
		fmt.Sprintf("must be one of %v, got %q", ValidFetchEngines, engine))
}

func validateModelFormat(field, model string) error {
	if model == "" {
		return kurterrors.NewValidationError(field, "must not be empty")
	}
	provider, name, found := strings.Cut(model, "/")
	if !found || provider == "" || name == "" {
		return kurterrors.NewValidationError(field,
			fmt.Sprintf("must be in \"provider/model\" form, got %q", model))
	}
	return nil
}

// ModelSettings is what a workflow step actually calls the LLM or
// embedding client with, after resolving every override layer.
type ModelSettings struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// ResolveModelSettings resolves model configuration for one call site
// using the hierarchy documented in kurt.toml: a value set directly
// on the step wins, then [indexing.<step>], then [indexing] (or
// [answer] when module is "answer"), then the built-in default.
// module is normally "indexing" or "answer"; step is the workflow
// step name (e.g. "section_extractions"), or "" for module-level
// resolution.
func (c *Config) ResolveModelSettings(module, step string, stepOverride *ModelSettings) ModelSettings {
	if stepOverride != nil && stepOverride.Model != "" {
		return *stepOverride
	}

	settings := ModelSettings{Model: c.defaultModelFor(module)}
	if v, ok := c.lookupRaw(module, "", "llm_model"); ok {
		settings.Model = v
	}
	if step != "" {
		if v, ok := c.lookupRaw(module, step, "llm_model"); ok {
			settings.Model = v
		}
	}

	if v, ok := c.lookupRawFloat(module, step, "temperature"); ok {
		settings.Temperature = &v
	}
	if v, ok := c.lookupRawInt(module, step, "max_tokens"); ok {
		settings.MaxTokens = &v
	}

	return settings
}

func (c *Config) defaultModelFor(module string) string {
	if module == "answer" {
		return c.Answer.LLMModel
	}
	return c.Indexing.LLMModel
}

// lookupRaw reads module.step.key (or module.key when step is "")
// from the raw TOML document, e.g. [indexing.section_extractions]
// llm_model = "...".
func (c *Config) lookupRaw(module, step, key string) (string, bool) {
	section, ok := c.raw[module].(map[string]any)
	if !ok {
		return "", false
	}
	if step != "" {
		sub, ok := section[step].(map[string]any)
		if !ok {
			return "", false
		}
		v, ok := sub[key].(string)
		return v, ok
	}
	v, ok := section[key].(string)
	return v, ok
}

func (c *Config) lookupRawFloat(module, step, key string) (float64, bool) {
	section, ok := c.raw[module].(map[string]any)
	if !ok {
		return 0, false
	}
	if step != "" {
		if sub, ok := section[step].(map[string]any); ok {
			if v, ok := sub[key].(float64); ok {
				return v, true
			}
		}
	}
	v, ok := section[key].(float64)
	return v, ok
}

func (c *Config) lookupRawInt(module, step, key string) (int, bool) {
	section, ok := c.raw[module].(map[string]any)
	if !ok {
		return 0, false
	}
	if step != "" {
		if sub, ok := section[step].(map[string]any); ok {
			if v, ok := sub[key].(int64); ok {
				return int(v), true
			}
		}
	}
	v, ok := section[key].(int64)
	return int(v), ok
}
