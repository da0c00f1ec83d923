// Package storage mirrors generated files to MinIO object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/pkg/log"
)

// MinIOStore writes objects into a single bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to MinIO and creates the bucket when it does not exist yet.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
	}
	if !exists {
		log.Infof("bucket '%s' does not exist, creating it", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
		}
	}
	log.Infof("MinIO bucket '%s' ready at %s", cfg.BucketName, cfg.Endpoint)
	return &MinIOStore{client: client, bucket: cfg.BucketName}, nil
}

// Put uploads data as object name, replacing any previous version.
func (s *MinIOStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", name, err)
	}
	return nil
}

// PresignedURL returns a temporary download link for object name.
func (s *MinIOStore) PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, name, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return u.String(), nil
}
