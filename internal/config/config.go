// Package config loads SentinelDF's environment configuration.
package config

import (
	"fmt"
	"math"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds every environment-configurable value enumerated in the
// service's external interface contract. Unknown configuration is
// validated, not silently ignored: Load fails fast on a bad weight split.
type Config struct {
	QuarantineThreshold      int     `mapstructure:"QUARANTINE_THRESHOLD"`
	HeuristicWeight          float64 `mapstructure:"HEURISTIC_WEIGHT"`
	EmbeddingWeight          float64 `mapstructure:"EMBEDDING_WEIGHT"`
	UnicodeWeight            float64 `mapstructure:"UNICODE_WEIGHT"`
	HMACSecret               string  `mapstructure:"HMAC_SECRET"`
	CachePath                string  `mapstructure:"CACHE_PATH"`
	CacheSchemaVersion       int     `mapstructure:"CACHE_SCHEMA_VERSION"`
	CacheHotEntries          int     `mapstructure:"CACHE_HOT_ENTRIES"`
	DetectorVersion          string  `mapstructure:"DETECTOR_VERSION"`
	EmbeddingModelID         string  `mapstructure:"EMBEDDING_MODEL_ID"`
	EmbeddingModelVersion    string  `mapstructure:"EMBEDDING_MODEL_VERSION"`
	EmbeddingDimensions      int     `mapstructure:"EMBEDDING_DIMENSIONS"`
	MaxDocsPerRequest        int     `mapstructure:"MAX_DOCS_PER_REQUEST"`
	MaxDocBytes              int     `mapstructure:"MAX_DOC_BYTES"`
	WorkerPoolSize           int     `mapstructure:"WORKER_POOL_SIZE"`
	WorkerQueueDepth         int     `mapstructure:"WORKER_QUEUE_DEPTH"`
	EmbeddingBatchSize       int     `mapstructure:"EMBEDDING_BATCH_SIZE"`
	EmbeddingBatchLatencyMs  int     `mapstructure:"EMBEDDING_BATCH_LATENCY_MS"`
	RateLimitBucketCapacity  int     `mapstructure:"RATE_LIMIT_BUCKET_CAPACITY"`
	RateLimitRefillPerSec    float64 `mapstructure:"RATE_LIMIT_REFILL_PER_SEC"`
	UsageBufferCapacity      int     `mapstructure:"USAGE_BUFFER_CAPACITY"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
}

// Load reads configuration from environment variables (and an optional
// config.yaml/config.env), applying defaults for everything the operator
// doesn't set, then validates invariants that must hold before any
// detector or HTTP listener starts.
func Load(logger *zap.Logger) (*Config, error) {
	var cfg Config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("QUARANTINE_THRESHOLD", 70)
	viper.SetDefault("HEURISTIC_WEIGHT", 0.4)
	viper.SetDefault("EMBEDDING_WEIGHT", 0.6)
	viper.SetDefault("UNICODE_WEIGHT", 0.0)
	viper.SetDefault("CACHE_PATH", "sentineldf_cache.db")
	viper.SetDefault("CACHE_SCHEMA_VERSION", 1)
	viper.SetDefault("CACHE_HOT_ENTRIES", 4096)
	viper.SetDefault("DETECTOR_VERSION", "heuristic-v3")
	viper.SetDefault("EMBEDDING_MODEL_ID", "sentineldf-hash-embed")
	viper.SetDefault("EMBEDDING_MODEL_VERSION", "v1")
	viper.SetDefault("EMBEDDING_DIMENSIONS", 384)
	viper.SetDefault("MAX_DOCS_PER_REQUEST", 1000)
	viper.SetDefault("MAX_DOC_BYTES", 20000)
	viper.SetDefault("WORKER_POOL_SIZE", 0) // 0 => hardware parallelism
	viper.SetDefault("WORKER_QUEUE_DEPTH", 64)
	viper.SetDefault("EMBEDDING_BATCH_SIZE", 128)
	viper.SetDefault("EMBEDDING_BATCH_LATENCY_MS", 50)
	viper.SetDefault("RATE_LIMIT_BUCKET_CAPACITY", 60)
	viper.SetDefault("RATE_LIMIT_REFILL_PER_SEC", 1.0)
	viper.SetDefault("USAGE_BUFFER_CAPACITY", 4096)
	// Keys without a real default are still registered so that
	// AutomaticEnv makes their environment variables visible to Unmarshal.
	viper.SetDefault("HMAC_SECRET", "")
	viper.SetDefault("DATABASE_URL", "")

	if err := viper.ReadInConfig(); err != nil {
		if logger != nil {
			logger.Warn("no config file found, using defaults/env vars", zap.Error(err))
		}
	}

	if err := viper.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces the invariants a misconfigured deployment must never
// be allowed to start with: the fusion weights must sum to 1.0 and a
// signing secret must be present.
func (c *Config) Validate() error {
	sum := c.HeuristicWeight + c.EmbeddingWeight + c.UnicodeWeight
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.6f (h=%.3f e=%.3f u=%.3f)",
			sum, c.HeuristicWeight, c.EmbeddingWeight, c.UnicodeWeight)
	}
	if c.QuarantineThreshold < 0 || c.QuarantineThreshold > 100 {
		return fmt.Errorf("quarantine threshold must be in [0,100], got %d", c.QuarantineThreshold)
	}
	if c.HMACSecret == "" {
		return fmt.Errorf("HMAC_SECRET is required")
	}
	if c.MaxDocsPerRequest <= 0 || c.MaxDocBytes <= 0 {
		return fmt.Errorf("MAX_DOCS_PER_REQUEST and MAX_DOC_BYTES must be positive")
	}
	return nil
}
