package catalog

import (
	"context"
	"time"
)

// RecordStore persists catalog records. Writes merge at field level and the
// last writer wins.
type RecordStore interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Upsert(ctx context.Context, records []Record) error
	Update(ctx context.Context, id string, fields Record) error
	SetStatus(ctx context.Context, ids []string, status Status) error
}

// Watcher streams change events for every record write until ctx ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan ChangeEvent, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageReader turns a URL into page text. Implementations do not retry.
type PageReader interface {
	Read(ctx context.Context, url string) (Page, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor returns the raw JSON text produced by the extraction service.
type Extractor interface {
	Extract(ctx context.Context, request ExtractRequest) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper pauses for d or until ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
