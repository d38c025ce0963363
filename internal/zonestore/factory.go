package zonestore

import (
	"fmt"

	"dropwatch-go/internal/config"
	"dropwatch-go/internal/core"
)

// NewZoneStoreFromConfig builds a ZoneStore implementation from config.
func NewZoneStoreFromConfig(cfg config.ZoneStoreConfig) (core.ZoneStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryZoneStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 zone store requires s3_bucket to be set")
		}
		return NewS3ZoneStore(cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem zone store requires fs_root to be set")
		}
		return NewFilesystemZoneStore(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown zone store type: %s", cfg.Type)
	}
}
