package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CHUNKLEDGER_"

// PathEnvVar overrides the config file location.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPaths lists the config file locations searched in order.
var DefaultPaths = []string{
	"chunkledger.yaml",
	"chunkledger.yml",
	"/etc/chunkledger/config.yaml",
}

// envMappings maps lower-cased variable names (prefix stripped) to koanf paths.
// Section names contain underscores, so the split cannot be derived.
var envMappings = map[string]string{
	"log_level":     "logging.level",
	"log_format":    "logging.format",
	"log_caller":    "logging.caller",
	"log_timestamp": "logging.timestamp",

	"ledger_driver":           "ledger.driver",
	"ledger_sqlite_path":      "ledger.sqlite_path",
	"ledger_postgres_dsn":     "ledger.postgres_dsn",
	"ledger_auto_migrate":     "ledger.auto_migrate",
	"ledger_max_open_conns":   "ledger.max_open_conns",
	"ledger_connect_attempts": "ledger.connect_attempts",
	"database_url":            "ledger.postgres_dsn",

	"blob_driver":               "blob.driver",
	"blob_fs_root":              "blob.fs_root",
	"blob_s3_bucket":            "blob.s3.bucket",
	"blob_s3_region":            "blob.s3.region",
	"blob_s3_endpoint":          "blob.s3.endpoint",
	"blob_s3_path_style":        "blob.s3.path_style",
	"blob_s3_access_key_id":     "blob.s3.access_key_id",
	"blob_s3_secret_access_key": "blob.s3.secret_access_key",
	"blob_s3_session_token":     "blob.s3.session_token",
	"blob_s3_key_prefix":        "blob.s3.key_prefix",

	"page_size":                "pipeline.page_size",
	"workers":                  "pipeline.workers",
	"max_consecutive_failures": "pipeline.max_consecutive_failures",
	"lock_ttl":                 "pipeline.lock_ttl",
	"raw_prefix":               "pipeline.raw_prefix",
	"chunks_root":              "pipeline.chunks_root",
	"remove_batch_size":        "pipeline.remove_batch_size",
	"survey_cache_size":        "pipeline.survey_cache_size",

	"retry_attempts":    "resilience.retry_attempts",
	"retry_delay":       "resilience.retry_delay",
	"breaker_failures":  "resilience.breaker_failures",
	"breaker_timeout":   "resilience.breaker_timeout",
	"breaker_half_open": "resilience.breaker_half_open",
	"breaker_interval":  "resilience.breaker_interval",

	"metrics_textfile": "metrics.textfile",
}

// Load layers defaults, the config file and the environment, then validates.
// An empty path falls back to PathEnvVar, then DefaultPaths. A missing file
// named by path or PathEnvVar is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc returns "" for unmapped variables so koanf skips them.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}
