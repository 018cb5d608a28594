// Package config loads chunkledger settings from defaults, an optional YAML
// file and CHUNKLEDGER_* environment variables.
package config

import "time"

// Config is the root configuration for every chunkledger command.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Blob       BlobConfig       `koanf:"blob"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

// LedgerConfig selects the relational ledger backend.
type LedgerConfig struct {
	Driver       string `koanf:"driver"` // memory|sqlite|postgres
	SQLitePath   string `koanf:"sqlite_path"`
	PostgresDSN  string `koanf:"postgres_dsn"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	// ConnectAttempts retries the first ping while the server starts up.
	ConnectAttempts uint `koanf:"connect_attempts"`
}

// BlobConfig selects the object store backend.
type BlobConfig struct {
	Driver string   `koanf:"driver"` // fs|s3|memory
	FSRoot string   `koanf:"fs_root"`
	S3     S3Config `koanf:"s3"`
}

// S3Config holds S3/MinIO connection settings. Credentials fall back to the
// default AWS chain when unset.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	KeyPrefix       string `koanf:"key_prefix"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	PathStyle       bool   `koanf:"path_style"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	SessionToken    string `koanf:"session_token"`
}

// PipelineConfig tunes a processing pass.
type PipelineConfig struct {
	PageSize               int           `koanf:"page_size"`
	Workers                int           `koanf:"workers"`
	MaxConsecutiveFailures int           `koanf:"max_consecutive_failures"`
	LockTTL                time.Duration `koanf:"lock_ttl"`
	RawPrefix              string        `koanf:"raw_prefix"`
	ChunksRoot             string        `koanf:"chunks_root"`
	RemoveBatchSize        int           `koanf:"remove_batch_size"`
	SurveyCacheSize        int           `koanf:"survey_cache_size"`
}

// ResilienceConfig configures retries and the circuit breaker around the object store.
type ResilienceConfig struct {
	RetryAttempts   uint          `koanf:"retry_attempts"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
	BreakerHalfOpen uint32        `koanf:"breaker_half_open"`
	BreakerInterval time.Duration `koanf:"breaker_interval"`
}

// MetricsConfig controls where pass metrics are written.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// Default returns the configuration used before any file or environment override.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Timestamp: true,
		},
		Ledger: LedgerConfig{
			Driver:      "sqlite",
			SQLitePath:  "./chunkledger.db",
			AutoMigrate: true,
		},
		Blob: BlobConfig{
			Driver: "fs",
			FSRoot: "./blobdata",
			S3:     S3Config{Region: "us-east-1"},
		},
		Pipeline: PipelineConfig{
			PageSize:               100,
			Workers:                4,
			MaxConsecutiveFailures: 3,
			LockTTL:                10 * time.Minute,
			RawPrefix:              "RAW_DATA",
			ChunksRoot:             "CHUNKED_DATA",
			RemoveBatchSize:        500,
			SurveyCacheSize:        256,
		},
		Resilience: ResilienceConfig{
			RetryAttempts:   3,
			RetryDelay:      200 * time.Millisecond,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			BreakerHalfOpen: 1,
			BreakerInterval: time.Minute,
		},
	}
}
