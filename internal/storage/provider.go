// Package storage defines where screenshots are written. Screenshots are
// addressed by their full output path, so a store only accepts paths under
// the root it was opened for.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/webscreenshots/internal/storage/gcs"
	"github.com/JakeFAU/webscreenshots/internal/storage/local"
)

// BlobStore writes one object and returns a URI for it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Store is a BlobStore that holds resources until Close.
type Store interface {
	BlobStore
	Close() error
}

// Open returns the store for an output directory. gs://bucket[/prefix]
// directories go to Google Cloud Storage; anything else is a local path.
func Open(ctx context.Context, outputDir string) (Store, error) {
	if bucket, ok := gcs.ParseBucket(outputDir); ok {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", bucket, err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: bucket})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return closingStore{BlobStore: store, close: client.Close}, nil
	}
	if strings.Contains(outputDir, "://") {
		return nil, fmt.Errorf("unsupported output location %q", outputDir)
	}
	store, err := local.New(local.Config{BaseDir: outputDir})
	if err != nil {
		return nil, err
	}
	return closingStore{BlobStore: store}, nil
}

// Nop wraps a BlobStore that needs no cleanup.
func Nop(store BlobStore) Store {
	return closingStore{BlobStore: store}
}

type closingStore struct {
	BlobStore
	close func() error
}

func (s closingStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
