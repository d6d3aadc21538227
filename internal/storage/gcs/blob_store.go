// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Scheme prefixes every GCS location.
const Scheme = "gs://"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes screenshots to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ParseBucket extracts the bucket from gs://bucket[/prefix].
func ParseBucket(location string) (string, bool) {
	if !strings.HasPrefix(location, Scheme) {
		return "", false
	}
	rest := strings.TrimPrefix(location, Scheme)
	bucket, _, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", false
	}
	return bucket, true
}

// ObjectName maps gs://bucket/object to object for this store's bucket.
func (s *BlobStore) ObjectName(path string) (string, error) {
	prefix := Scheme + s.bucket + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("path %q is outside bucket %q", path, s.bucket)
	}
	name := strings.TrimPrefix(path, prefix)
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	return name, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	name, err := s.ObjectName(path)
	if err != nil {
		return "", err
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
