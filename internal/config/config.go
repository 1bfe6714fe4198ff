package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"degpredict/domain/deg"
	"degpredict/domain/expression"
	"degpredict/domain/panel"
	"degpredict/domain/prediction"
	"degpredict/internal/errors"
	"degpredict/internal/stats"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Config represents the complete run configuration
type Config struct {
	Paths         PathConfig           `yaml:"paths"`
	Source        SourceConfig         `yaml:"source"`
	Normalization NormalizationConfig  `yaml:"normalization"`
	Analysis      AnalysisConfig       `yaml:"analysis"`
	Baseline      BaselineConfig       `yaml:"baseline"`
	Groups        GroupConfig          `yaml:"groups"`
	Panel         panel.Panel          `yaml:"gene_panel"`
	Rules         prediction.RuleTable `yaml:"prediction"`
	Storage       StorageConfig        `yaml:"storage"`
	Ledger        LedgerConfig         `yaml:"ledger"`
	Metrics       MetricsConfig        `yaml:"metrics"`
}

// PathConfig holds file system paths
type PathConfig struct {
	DataDir string `yaml:"data_dir"`
}

// SourceConfig describes where the proxy dataset comes from
type SourceConfig struct {
	GSEID         string        `yaml:"gse_id"`
	URL           string        `yaml:"url"`
	LocalFile     string        `yaml:"local_file"`
	PlatformFile  string        `yaml:"platform_file"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SeriesMatrixURL returns the configured URL or the GEO FTP location for the series
func (s SourceConfig) SeriesMatrixURL() string {
	if s.URL != "" {
		return s.URL
	}
	stub := s.GSEID
	if len(stub) > 3 {
		stub = stub[:len(stub)-3] + "nnn"
	}
	return fmt.Sprintf("https://ftp.ncbi.nlm.nih.gov/geo/series/%s/%s/matrix/%s_series_matrix.txt.gz", stub, s.GSEID, s.GSEID)
}

// NormalizationConfig holds stage 1 transform settings
type NormalizationConfig struct {
	LogMode     string  `yaml:"log_mode"`
	Pseudocount float64 `yaml:"pseudocount"`
}

// AnalysisConfig holds the statistical thresholds
type AnalysisConfig struct {
	deg.Thresholds      `yaml:",inline"`
	ExpressionThreshold float64 `yaml:"expression_threshold"`
	EqualVariance       bool    `yaml:"equal_variance"`
}

// BaselineConfig points at the astrocyte baseline expression table
type BaselineConfig struct {
	File string `yaml:"file"`
}

// GroupRule assigns a group to samples whose field contains any keyword and
// none of the exclusions. Matching is case-insensitive.
type GroupRule struct {
	Group    expression.Group `yaml:"group"`
	Field    string           `yaml:"field"`
	Contains []string         `yaml:"contains"`
	Excludes []string         `yaml:"excludes,omitempty"`
}

// Matches reports whether the rule selects the sample
func (r GroupRule) Matches(s expression.Sample) bool {
	value, ok := s.Field(r.Field)
	if !ok {
		return false
	}
	value = strings.ToLower(value)
	for _, ex := range r.Excludes {
		if strings.Contains(value, strings.ToLower(ex)) {
			return false
		}
	}
	for _, kw := range r.Contains {
		if strings.Contains(value, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// GroupConfig controls sample group assignment
type GroupConfig struct {
	ConfirmInferred bool              `yaml:"confirm_inferred"`
	Assignments     map[string]string `yaml:"assignments"`
	Rules           []GroupRule       `yaml:"rules"`
}

// StorageConfig selects the artifact store driver
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// LedgerConfig holds the run history database settings
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds the Prometheus textfile target; empty disables export
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the embedded configuration
func Default() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultYAML, cfg); err != nil {
		return nil, errors.Wrap(err, "embedded default configuration is malformed")
	}
	return cfg, nil
}

// Load layers the optional YAML file and environment overrides over the
// embedded defaults and validates the result
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("read config %s: %w", path, err))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse config %s: %w", path, err))
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Paths.DataDir = getEnvOrDefault("DEGPREDICT_DATA_DIR", cfg.Paths.DataDir)
	cfg.Source.LocalFile = getEnvOrDefault("DEGPREDICT_LOCAL_FILE", cfg.Source.LocalFile)
	cfg.Source.PlatformFile = getEnvOrDefault("DEGPREDICT_PLATFORM_FILE", cfg.Source.PlatformFile)
	cfg.Source.RetryAttempts = getEnvIntOrDefault("DEGPREDICT_RETRY_ATTEMPTS", cfg.Source.RetryAttempts)
	cfg.Source.RetryBackoff = getEnvDurationOrDefault("DEGPREDICT_RETRY_BACKOFF", cfg.Source.RetryBackoff)
	cfg.Baseline.File = getEnvOrDefault("DEGPREDICT_BASELINE_FILE", cfg.Baseline.File)
	cfg.Groups.ConfirmInferred = getEnvBoolOrDefault("DEGPREDICT_CONFIRM_GROUPS", cfg.Groups.ConfirmInferred)
	cfg.Storage.Driver = getEnvOrDefault("DEGPREDICT_STORAGE", cfg.Storage.Driver)
	cfg.Storage.S3Bucket = getEnvOrDefault("DEGPREDICT_S3_BUCKET", cfg.Storage.S3Bucket)
	cfg.Storage.S3Region = getEnvOrDefault("DEGPREDICT_S3_REGION", cfg.Storage.S3Region)
	cfg.Storage.S3Endpoint = getEnvOrDefault("DEGPREDICT_S3_ENDPOINT", cfg.Storage.S3Endpoint)
	cfg.Ledger.Path = getEnvOrDefault("DEGPREDICT_LEDGER", cfg.Ledger.Path)
	cfg.Ledger.Enabled = getEnvBoolOrDefault("DEGPREDICT_LEDGER_ENABLED", cfg.Ledger.Enabled)
	cfg.Metrics.Textfile = getEnvOrDefault("DEGPREDICT_METRICS_FILE", cfg.Metrics.Textfile)
}

// Validate checks every section before any stage runs
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" && c.Storage.Driver == "local" {
		return errors.ConfigInvalid("paths.data_dir is required for local storage")
	}
	if c.Source.GSEID == "" && c.Source.URL == "" && c.Source.LocalFile == "" {
		return errors.ConfigInvalid("source needs gse_id, url or local_file")
	}
	if c.Source.RetryAttempts < 1 {
		return errors.ConfigInvalid("source.retry_attempts must be at least 1")
	}
	if c.Source.RetryBackoff < 0 {
		return errors.ConfigInvalid("source.retry_backoff must not be negative")
	}
	if _, err := stats.ParseLogMode(c.Normalization.LogMode); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("normalization.log_mode: %w", err))
	}
	if c.Normalization.Pseudocount <= 0 {
		return errors.ConfigInvalid("normalization.pseudocount must be positive")
	}

	a := c.Analysis
	if !inUnitInterval(a.PValue) || !inUnitInterval(a.AdjPValue) {
		return errors.ConfigInvalid("p-value thresholds must lie in (0, 1]")
	}
	if a.Log2FC < 0 {
		return errors.ConfigInvalid("analysis.log2fc_threshold must not be negative")
	}

	for sample, g := range c.Groups.Assignments {
		if _, err := expression.ParseGroup(g); err != nil {
			return errors.ConfigInvalid(fmt.Sprintf("groups.assignments[%s]: unknown group %q", sample, g))
		}
	}
	for i, r := range c.Groups.Rules {
		if r.Group != expression.GroupControl && r.Group != expression.GroupTreated {
			return errors.ConfigInvalid(fmt.Sprintf("groups.rules[%d]: unknown group %q", i, r.Group))
		}
		if _, ok := (expression.Sample{}).Field(r.Field); !ok {
			return errors.ConfigInvalid(fmt.Sprintf("groups.rules[%d]: unknown field %q", i, r.Field))
		}
		if len(r.Contains) == 0 {
			return errors.ConfigInvalid(fmt.Sprintf("groups.rules[%d]: contains is empty", i))
		}
	}

	if err := c.Panel.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("gene_panel: %w", err))
	}
	if err := c.Rules.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("prediction rules: %w", err))
	}

	switch c.Storage.Driver {
	case "local", "memory":
	case "s3":
		if c.Storage.S3Bucket == "" {
			return errors.ConfigInvalid("storage.s3_bucket is required for the s3 driver")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return errors.ConfigInvalid("ledger.path is required when the ledger is enabled")
	}
	return nil
}

func inUnitInterval(v float64) bool { return v > 0 && v <= 1 }

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
