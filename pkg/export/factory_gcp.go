//go:build gcp

package export

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (ArchiveStore, error) {
	bucket := os.Getenv("AES_EXPORT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AES_EXPORT_GCS_BUCKET is required for GCS storage")
	}

	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("AES_EXPORT_GCS_PREFIX"),
	})
}
