// Package storage wraps the durable object store holding generated audio.
// Storage is best-effort for workers: an upload failure degrades result
// delivery, it does not fail the job.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrStorageDisabled = errors.New("object storage not configured")

// ObjectStore is the contract the worker and result resolver consume.
type ObjectStore interface {
	Enabled() bool
	Upload(ctx context.Context, key string, data []byte) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Store talks to any S3-compatible backend (MinIO, R2, AWS).
type S3Store struct {
	client *minio.Client
	bucket string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Enabled() bool { return true }

func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "audio/wav"},
	)
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func (s *S3Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return presigned.String(), nil
}

// DisabledStore stands in when no storage backend is configured; jobs then
// complete with local artifacts only.
type DisabledStore struct{}

func (DisabledStore) Enabled() bool { return false }

func (DisabledStore) Upload(context.Context, string, []byte) error {
	return ErrStorageDisabled
}

func (DisabledStore) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrStorageDisabled
}
