package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the archive storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an archive store based on environment
// variables.
//
//   - AES_EXPORT_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - AES_DATA_DIR: base directory for filesystem store (default "data")
//
// For S3:
//   - AWS_REGION or AES_EXPORT_S3_REGION
//   - AES_EXPORT_S3_BUCKET (required)
//   - AES_EXPORT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - AES_EXPORT_S3_PREFIX (optional)
//
// For GCS:
//   - AES_EXPORT_GCS_BUCKET (required)
//   - AES_EXPORT_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (ArchiveStore, error) {
	storeType := StoreType(os.Getenv("AES_EXPORT_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported export storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (ArchiveStore, error) {
	dataDir := os.Getenv("AES_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "exports"))
}

func newS3StoreFromEnv(ctx context.Context) (ArchiveStore, error) {
	bucket := os.Getenv("AES_EXPORT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AES_EXPORT_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("AES_EXPORT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("AES_EXPORT_S3_ENDPOINT"),
		Prefix:   os.Getenv("AES_EXPORT_S3_PREFIX"),
	})
}
