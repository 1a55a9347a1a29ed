package stores

import (
	"context"

	"github.com/microbiomeViz/Picture-library/config"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/stores/aws"
	"github.com/microbiomeViz/Picture-library/stores/filesystem"
	"github.com/microbiomeViz/Picture-library/stores/memory"
	"github.com/microbiomeViz/Picture-library/stores/minio"
	"github.com/microbiomeViz/Picture-library/stores/postgres"
	"github.com/microbiomeViz/Picture-library/stores/sqlite"
	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all row store types.
type Store interface {
	core.AssetStore
	core.ProjectStore
	core.ChangeFeed
}

func GetStore(cfg *config.Config) Store {
	var store Store

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store = sqlite.NewStore(cfg.DataSourceName)
	case "postgres":
		pg, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			logrus.Fatal("DATABASE_URL environment variable must be set for postgres storage type")
		}
		store = pg
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

func GetObjectStore(ctx context.Context, cfg *config.Config) core.ObjectStore {
	var store core.ObjectStore

	storageField := logrus.Fields{
		"objectStorageType": cfg.ObjectStorageType,
	}

	switch cfg.ObjectStorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store = filesystem.NewStore(cfg.LocalStoragePath, cfg.PublicBaseURL)
	case "s3":
		if cfg.S3Bucket == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 object storage type")
		}
		storageField["bucketName"] = cfg.S3Bucket
		store = aws.NewStore(cfg.S3Bucket, cfg.S3PublicBaseURL)
	case "minio":
		if cfg.MinioEndpoint == "" {
			logrus.Fatal("MINIO_ENDPOINT environment variable must be set for minio object storage type")
		}
		storageField["endpoint"] = cfg.MinioEndpoint
		storageField["bucketName"] = cfg.MinioBucket
		m, err := minio.NewStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize minio object storage")
		}
		store = m
	default:
		store = memory.NewObjectStore(cfg.PublicBaseURL)
		storageField["objectStorageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use object storage")
	return store
}
