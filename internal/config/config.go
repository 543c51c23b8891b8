// Package config provides unified configuration loading for carbon.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/agent"
	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/control"
	"github.com/nvandessel/carbon-oracle/internal/llm"
	"github.com/nvandessel/carbon-oracle/internal/oracle"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the project's .carbon directory.
const FileName = "config.yaml"

// CarbonConfig contains all carbon configuration settings.
type CarbonConfig struct {
	// Agent contains the decision thresholds.
	Agent agent.Config `json:"agent" yaml:"agent"`

	// Loop contains the control loop cadence.
	Loop LoopConfig `json:"loop" yaml:"loop"`

	// Oracle contains the ensemble and training settings.
	Oracle OracleConfig `json:"oracle" yaml:"oracle"`

	// LLM contains settings for the report assessment.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the Prometheus endpoint settings.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Backup controls snapshot retention under .carbon/backups.
	Backup BackupConfig `json:"backup" yaml:"backup"`

	// Similarity controls how past batches are matched in reports and lookups.
	Similarity SimilarityConfig `json:"similarity" yaml:"similarity"`
}

// LoopConfig configures batch length and prediction cadence.
type LoopConfig struct {
	// PredictionIntervalMin is the number of ticks between oracle calls.
	PredictionIntervalMin int `json:"prediction_interval_min" yaml:"prediction_interval_min"`

	// ExperimentDurationMin is the simulated batch length.
	ExperimentDurationMin int `json:"experiment_duration_min" yaml:"experiment_duration_min"`

	// OracleTimeout bounds a single oracle call.
	OracleTimeout time.Duration `json:"oracle_timeout" yaml:"oracle_timeout"`
}

// OracleConfig configures the built-in ensemble oracle.
type OracleConfig struct {
	EnsembleSize     int     `json:"ensemble_size" yaml:"ensemble_size"`
	RidgeLambda      float64 `json:"ridge_lambda" yaml:"ridge_lambda"`
	SyntheticBatches int     `json:"synthetic_batches" yaml:"synthetic_batches"`
	MinHistoryRows   int     `json:"min_history_rows" yaml:"min_history_rows"`
	AugmentBelowRows int     `json:"augment_below_rows" yaml:"augment_below_rows"`
	AugmentBatches   int     `json:"augment_batches" yaml:"augment_batches"`

	// Seed makes training reproducible. Zero seeds from the clock.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// LoggingConfig configures carbon's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug", or "trace".
	// "debug" enables decision logging to .carbon/decisions.jsonl.
	// "trace" additionally includes telemetry records and full LLM prompts.
	Level string `json:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics, e.g. ":9108". Empty disables it.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// BackupConfig holds the retention settings applied after each snapshot.
// A snapshot is kept when any of the set limits keeps it.
type BackupConfig struct {
	MaxCount int `json:"max_count" yaml:"max_count"`

	// MaxAge accepts Go durations and d/w suffixes, e.g. "30d".
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty"`

	// MaxTotalSize caps the combined snapshot size, e.g. "100MB".
	MaxTotalSize string `json:"max_total_size,omitempty" yaml:"max_total_size,omitempty"`
}

// SimilarityConfig configures similar-case search.
type SimilarityConfig struct {
	// Cases is how many precedents a batch report cites.
	Cases int `json:"cases" yaml:"cases"`

	// Metric is "euclidean" (default) or "cosine", over standardized features.
	Metric string `json:"metric" yaml:"metric"`
}

// LLMConfig configures the optional language-model assessment in reports.
type LLMConfig struct {
	// Provider identifies the LLM backend: "anthropic", "openai", "ollama", or "" for disabled.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider. Supports ${VAR} syntax for env vars.
	// Not required for ollama.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the API endpoint URL. Used for ollama or custom OpenAI-compatible endpoints.
	// Defaults: ollama=http://localhost:11434/v1, openai=https://api.openai.com/v1
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model used for the batch assessment.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout is the maximum duration to wait for LLM responses.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Enabled indicates whether LLM features are enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RedactedAPIKey returns the API key with most characters masked.
// Shows first 4 and last 4 characters, e.g., "sk-a...xyz9".
// Returns "" for empty keys and "(set)" for keys shorter than 12 chars.
func (c LLMConfig) RedactedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) < 12 {
		return "(set)"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// String implements fmt.Stringer to prevent accidental API key logging.
func (c LLMConfig) String() string {
	return fmt.Sprintf("LLMConfig{Provider:%s, Enabled:%t, APIKey:%s, Model:%s}",
		c.Provider, c.Enabled, c.RedactedAPIKey(), c.Model)
}

// Default returns a CarbonConfig with the standard thresholds.
func Default() *CarbonConfig {
	return &CarbonConfig{
		Agent: agent.DefaultConfig(),
		Loop: LoopConfig{
			PredictionIntervalMin: constants.DefaultPredictionIntervalMin,
			ExperimentDurationMin: constants.DefaultExperimentDurationMin,
			OracleTimeout:         2 * time.Second,
		},
		Oracle: OracleConfig{
			EnsembleSize:     constants.DefaultEnsembleSize,
			RidgeLambda:      constants.DefaultRidgeLambda,
			SyntheticBatches: constants.DefaultSyntheticBatches,
			MinHistoryRows:   constants.DefaultMinHistoryRows,
			AugmentBelowRows: constants.DefaultAugmentBelowRows,
			AugmentBatches:   constants.DefaultAugmentBatches,
		},
		LLM: LLMConfig{
			Model:   "llama3",
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Backup: BackupConfig{
			MaxCount: 10,
		},
		Similarity: SimilarityConfig{
			Cases:  constants.DefaultSimilarCases,
			Metric: vectorsearch.MetricEuclidean,
		},
	}
}

// Path returns the config file path for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, ".carbon", FileName)
}

// Load loads configuration for a project.
// Order: defaults -> <root>/.carbon/config.yaml -> environment variables
func Load(projectRoot string) (*CarbonConfig, error) {
	config := Default()

	configPath := Path(projectRoot)
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, loadErr := LoadFromFile(configPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of the defaults.
func LoadFromFile(path string) (*CarbonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.LLM.APIKey = expandEnvVars(config.LLM.APIKey)

	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *CarbonConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *CarbonConfig) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	if c.Loop.PredictionIntervalMin < 1 {
		return fmt.Errorf("prediction_interval_min must be at least 1, got %d", c.Loop.PredictionIntervalMin)
	}
	if c.Loop.ExperimentDurationMin < 0 {
		return fmt.Errorf("experiment_duration_min must be non-negative, got %d", c.Loop.ExperimentDurationMin)
	}
	if c.Loop.OracleTimeout < 0 {
		return fmt.Errorf("oracle_timeout must be non-negative, got %v", c.Loop.OracleTimeout)
	}

	if c.Oracle.EnsembleSize < 1 {
		return fmt.Errorf("ensemble_size must be at least 1, got %d", c.Oracle.EnsembleSize)
	}
	if c.Oracle.RidgeLambda < 0 {
		return fmt.Errorf("ridge_lambda must be non-negative, got %g", c.Oracle.RidgeLambda)
	}
	if c.Oracle.SyntheticBatches < 2 {
		return fmt.Errorf("synthetic_batches must be at least 2, got %d", c.Oracle.SyntheticBatches)
	}
	if c.Oracle.MinHistoryRows < 2 {
		return fmt.Errorf("min_history_rows must be at least 2, got %d", c.Oracle.MinHistoryRows)
	}
	if c.Oracle.AugmentBelowRows < 0 || c.Oracle.AugmentBatches < 0 {
		return fmt.Errorf("augmentation settings must be non-negative")
	}

	if c.Backup.MaxCount < 0 {
		return fmt.Errorf("backup max_count must be non-negative, got %d", c.Backup.MaxCount)
	}

	if c.Similarity.Cases < 1 {
		return fmt.Errorf("similarity cases must be at least 1, got %d", c.Similarity.Cases)
	}
	if _, err := vectorsearch.MetricByName(c.Similarity.Metric); err != nil {
		return err
	}

	if c.LLM.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.LLM.Timeout)
	}

	validProviders := map[string]bool{"": true, "anthropic": true, "openai": true, "ollama": true}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("invalid provider: %s (valid: anthropic, openai, ollama, or empty)", c.LLM.Provider)
	}

	validLevels := map[string]bool{"warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// ControlConfig projects the file configuration onto the control loop.
func (c *CarbonConfig) ControlConfig() control.Config {
	return control.Config{
		PredictionInterval: c.Loop.PredictionIntervalMin,
		OracleTimeout:      c.Loop.OracleTimeout,
		Agent:              c.Agent,
	}
}

// TrainerConfig projects the file configuration onto the oracle trainer.
func (c *CarbonConfig) TrainerConfig() oracle.TrainerConfig {
	return oracle.TrainerConfig{
		SyntheticBatches: c.Oracle.SyntheticBatches,
		MinHistoryRows:   c.Oracle.MinHistoryRows,
		AugmentBelowRows: c.Oracle.AugmentBelowRows,
		AugmentBatches:   c.Oracle.AugmentBatches,
	}
}

// SimilarityMetric resolves the configured metric, falling back to the
// default for an invalid name.
func (c *CarbonConfig) SimilarityMetric() vectorsearch.Metric {
	m, err := vectorsearch.MetricByName(c.Similarity.Metric)
	if err != nil {
		return vectorsearch.Proximity
	}
	return m
}

// LLMClientConfig projects the LLM section onto the client settings.
// The second result is false when the assessment is disabled.
func (c *CarbonConfig) LLMClientConfig() (llm.ClientConfig, bool) {
	if !c.LLM.Enabled || c.LLM.Provider == "" {
		return llm.ClientConfig{}, false
	}
	return llm.ClientConfig{
		Provider: c.LLM.Provider,
		APIKey:   c.LLM.APIKey,
		BaseURL:  c.LLM.BaseURL,
		Model:    c.LLM.Model,
		Timeout:  c.LLM.Timeout,
	}, true
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *CarbonConfig) {
	envInt("CARBON_WARMUP_MINUTES", &config.Agent.WarmupMinutes)
	envFloat("CARBON_MIN_CAPACITY", &config.Agent.MinCapacity)
	envFloat("CARBON_TARGET_CAPACITY", &config.Agent.TargetCapacity)
	envFloat("CARBON_CONFIDENCE_FLOOR", &config.Agent.ConfidenceFloor)
	envInt("CARBON_PREDICTION_INTERVAL", &config.Loop.PredictionIntervalMin)
	envInt("CARBON_DURATION", &config.Loop.ExperimentDurationMin)

	if v := os.Getenv("CARBON_ORACLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Loop.OracleTimeout = d
		}
	}
	if v := os.Getenv("CARBON_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Oracle.Seed = n
		}
	}

	if v := os.Getenv("CARBON_LLM_PROVIDER"); v != "" {
		config.LLM.Provider = v
	}

	if v := os.Getenv("CARBON_LLM_ENABLED"); v != "" {
		config.LLM.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("CARBON_LLM_MODEL"); v != "" {
		config.LLM.Model = v
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.LLM.Provider == "anthropic" {
		config.LLM.APIKey = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && config.LLM.Provider == "openai" {
		config.LLM.APIKey = v
	}

	// Ollama uses OLLAMA_HOST for base URL (no API key needed)
	if config.LLM.Provider == "ollama" {
		if v := os.Getenv("OLLAMA_HOST"); v != "" {
			config.LLM.BaseURL = v
		} else if config.LLM.BaseURL == "" {
			config.LLM.BaseURL = "http://localhost:11434/v1"
		}
	}

	if v := os.Getenv("CARBON_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	envInt("CARBON_BACKUP_MAX_COUNT", &config.Backup.MaxCount)

	if v := os.Getenv("CARBON_SIMILARITY_METRIC"); v != "" {
		config.Similarity.Metric = v
	}

	if v := os.Getenv("CARBON_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
