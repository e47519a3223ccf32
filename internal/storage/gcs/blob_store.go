// Package gcs archives page snapshots in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// CacheControl is set on every written object when non-empty.
	CacheControl string
}

type objectWriter interface {
	io.WriteCloser
}

type writerFunc func(ctx context.Context, bucket, object, contentType, cacheControl string) objectWriter

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	newWriter writerFunc
	cfg       Config
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return newWithWriter(func(ctx context.Context, bucket, object, contentType, cacheControl string) objectWriter {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = cacheControl
		return w
	}, cfg)
}

func newWithWriter(fn writerFunc, cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{newWriter: fn, cfg: cfg}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	writer := s.newWriter(ctx, s.cfg.Bucket, path, contentType, s.cfg.CacheControl)
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, path), nil
}
