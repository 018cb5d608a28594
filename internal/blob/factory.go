package blob

import (
	"context"

	"github.com/pkg/errors"

	"chunkledger/internal/config"
)

// Open selects a Store implementation from the blob configuration section.
//
//	driver: fs|s3|memory (default fs)
//	fs_root: directory root when driver=fs
//	s3.*: bucket, key_prefix, region, endpoint, path_style, credentials
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:          cfg.S3.Bucket,
			KeyPrefix:       cfg.S3.KeyPrefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown blob driver %q", driver)
	}
}
