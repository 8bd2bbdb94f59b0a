package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	Dedupe      DedupeConfig      `yaml:"dedupe" mapstructure:"dedupe"`
	Grouping    GroupingConfig    `yaml:"grouping" mapstructure:"grouping"`
	Resolve     ResolveConfig     `yaml:"resolve" mapstructure:"resolve"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the corpus store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the classification oracle.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-call oracle wall-clock timeout.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// FingerprintConfig configures the fingerprint engine.
type FingerprintConfig struct {
	// Concurrency bounds the file-read worker pool.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// DedupeConfig holds the similarity thresholds for the duplicate detector.
// The 40/60/80 bands are empirically chosen constants; they live in config
// rather than code so they can be tuned without a release.
type DedupeConfig struct {
	SimilarityLow    float64 `yaml:"similarity_low" mapstructure:"similarity_low"`
	SimilarityMedium float64 `yaml:"similarity_medium" mapstructure:"similarity_medium"`
	SimilarityHigh   float64 `yaml:"similarity_high" mapstructure:"similarity_high"`
}

// GroupingConfig configures the semantic grouping coordinator.
type GroupingConfig struct {
	// PageCeiling excludes large single-instance documents as noise; a large
	// document is retained when another document shares its exact page count.
	PageCeiling int `yaml:"page_ceiling" mapstructure:"page_ceiling"`
	// BatchTokenBudget bounds each oracle batch by estimated prompt tokens.
	BatchTokenBudget int `yaml:"batch_token_budget" mapstructure:"batch_token_budget"`
	// MaxTailClusters caps how many still-open clusters are replayed into
	// the next batch's prompt.
	MaxTailClusters int `yaml:"max_tail_clusters" mapstructure:"max_tail_clusters"`
	// MaxShrinks bounds how many times a failing batch is halved before its
	// documents are surfaced as ungrouped.
	MaxShrinks int `yaml:"max_shrinks" mapstructure:"max_shrinks"`
}

// ResolveConfig configures the version resolver.
type ResolveConfig struct {
	// TuningPath optionally points at a YAML file overriding the built-in
	// version-indicator and completeness keyword tables.
	TuningPath string `yaml:"tuning_path" mapstructure:"tuning_path"`
	// Concurrency bounds parallel cluster resolution.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCRESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_sec", 2)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("fingerprint.concurrency", 8)
	v.SetDefault("dedupe.similarity_low", 0.40)
	v.SetDefault("dedupe.similarity_medium", 0.60)
	v.SetDefault("dedupe.similarity_high", 0.80)
	v.SetDefault("grouping.page_ceiling", 100)
	v.SetDefault("grouping.batch_token_budget", 60000)
	v.SetDefault("grouping.max_tail_clusters", 20)
	v.SetDefault("grouping.max_shrinks", 3)
	v.SetDefault("resolve.concurrency", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
