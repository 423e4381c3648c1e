package stores

import (
	"context"
	"fmt"
	"processmap-server/config"
	"processmap-server/core"
	"processmap-server/stores/aws"
	"processmap-server/stores/filesystem"
	"processmap-server/stores/memory"
	"processmap-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.ProcessMapStore
	core.ProjectDirectory
}

// GetStore builds the store selected by cfg.StorageType.
func GetStore(ctx context.Context, cfg config.Config) (Store, error) {
	var store Store

	storageField := logrus.Fields{
		"storage_type": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["base_path"] = cfg.LocalStoragePath
		fs, err := filesystem.NewStore(cfg.LocalStoragePath)
		if err != nil {
			return nil, err
		}
		store = fs
	case "sqlite":
		storageField["data_source_name"] = cfg.DataSourceName
		db, err := sqlite.NewStore(cfg.DataSourceName)
		if err != nil {
			return nil, err
		}
		store = db
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucket_name"] = cfg.S3BucketName
		s3, err := aws.NewStore(ctx, cfg.S3BucketName)
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		store = memory.NewStore()
		storageField["storage_type"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
