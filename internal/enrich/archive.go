package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

const snapshotContentType = "text/html; charset=utf-8"

// Archiver stores raw page bodies under <prefix>/<record id>/<digest>.html.
type Archiver struct {
	blobs  catalog.BlobStore
	hasher catalog.Hasher
	prefix string
}

// NewArchiver builds an Archiver.
func NewArchiver(blobs catalog.BlobStore, hasher catalog.Hasher, prefix string) (*Archiver, error) {
	if blobs == nil || hasher == nil {
		return nil, errors.New("archiver needs a blob store and a hasher")
	}
	return &Archiver{blobs: blobs, hasher: hasher, prefix: strings.Trim(prefix, "/")}, nil
}

// Archive writes body and returns the object URI.
func (a *Archiver) Archive(ctx context.Context, recordID string, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, a.path(recordID, digest), snapshotContentType, body)
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

func (a *Archiver) path(recordID, digest string) string {
	if recordID == "" {
		recordID = "_"
	}
	recordID = strings.ReplaceAll(recordID, "/", "_")
	if a.prefix == "" {
		return fmt.Sprintf("%s/%s.html", recordID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", a.prefix, recordID, digest)
}
