package catalog

import (
	"net/http"
	"time"
)

// ChangeEvent carries the before/after snapshots of a single record write.
// Before is empty and Created is set when the write inserted the record.
type ChangeEvent struct {
	ID      string    `json:"id"`
	Before  Record    `json:"before"`
	After   Record    `json:"after"`
	Created bool      `json:"created,omitempty"`
	At      time.Time `json:"at"`
}

// Activates reports whether the write should start enrichment. Only updates
// activate; inserting a record that already carries PENDING_SCRAPE does not.
func (e ChangeEvent) Activates() bool {
	return !e.Created && ShouldActivate(e.Before.Status(), e.After.Status())
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Page is the plain-text rendition of a fetched document.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Text         string
	Raw          []byte
	UsedHeadless bool
	Duration     time.Duration
}

// ExtractRequest is the input to the extraction service.
type ExtractRequest struct {
	// Text is the page text, or the empty-text sentinel when the fetch failed.
	Text          string
	URL           string
	Schema        string
	SearchEnabled bool
}
