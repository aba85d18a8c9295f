//go:build gcp

package export

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
)

// GCSStore keeps archives in a Google Cloud Storage bucket, keyed by
// content hash.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // optional key prefix
}

// NewGCSStore creates a GCS-backed archive store. Credentials come from
// Application Default Credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) objectPath(rawHash string) string {
	return s.prefix + rawHash + ".json"
}

// Store implements ArchiveStore. Existing objects are left as-is.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	rawHash := canonicalize.HashBytes(data)
	prefixed := "sha256:" + rawHash

	obj := s.client.Bucket(s.bucket).Object(s.objectPath(rawHash))
	if _, err := obj.Attrs(ctx); err == nil {
		return prefixed, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close archive: %w", err)
	}
	return prefixed, nil
}

// Get implements ArchiveStore.
func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(s.bucket).Object(s.objectPath(rawHash)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get archive %s: %w", hash, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

// Exists implements ArchiveStore.
func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return false, err
	}

	_, err = s.client.Bucket(s.bucket).Object(s.objectPath(rawHash)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs stat archive %s: %w", hash, err)
}
