package config

import (
	"strings"

	"github.com/pkg/errors"
)

// Validate checks cross-field constraints after all layers are merged.
func (c *Config) Validate() error {
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Ledger.SQLitePath) == "" {
			return errors.New("ledger.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Ledger.PostgresDSN) == "" {
			return errors.New("ledger.postgres_dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	return nil
}

func (c *Config) validateBlob() error {
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return errors.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.PageSize <= 0 {
		return errors.New("pipeline.page_size must be positive")
	}
	if p.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	if p.MaxConsecutiveFailures <= 0 {
		return errors.New("pipeline.max_consecutive_failures must be positive")
	}
	if p.LockTTL <= 0 {
		return errors.New("pipeline.lock_ttl must be positive")
	}
	if p.RemoveBatchSize <= 0 {
		return errors.New("pipeline.remove_batch_size must be positive")
	}
	if strings.Trim(p.RawPrefix, "/") == "" || strings.Trim(p.ChunksRoot, "/") == "" {
		return errors.New("pipeline.raw_prefix and pipeline.chunks_root are required")
	}
	if strings.Trim(p.RawPrefix, "/") == strings.Trim(p.ChunksRoot, "/") {
		return errors.New("pipeline.raw_prefix and pipeline.chunks_root must differ")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}
