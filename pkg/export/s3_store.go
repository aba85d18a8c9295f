package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
)

// S3Store keeps archives in an S3 bucket, keyed by content hash.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack)
	Prefix   string // optional key prefix
}

// NewS3Store creates an S3-backed archive store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(rawHash string) string {
	return s.prefix + rawHash + ".json"
}

// Store implements ArchiveStore. An object that already exists under
// the hash key is left as-is.
func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	rawHash := canonicalize.HashBytes(data)
	prefixed := "sha256:" + rawHash
	key := s.key(rawHash)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return prefixed, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put archive: %w", err)
	}
	return prefixed, nil
}

// Get implements ArchiveStore.
func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rawHash)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get archive %s: %w", hash, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

// Exists implements ArchiveStore.
func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rawHash)),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
