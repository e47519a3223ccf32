package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record id is unknown.
var ErrNotFound = errors.New("record not found")

// Messages written into a record's error field.
const (
	MsgNoURL            = "No URL found"
	MsgNoURLDetails     = "Could not find a valid URL to scrape for this record."
	MsgExtractionFailed = "Extraction failed"
	MsgFetchFailed      = "Fetch failed"
	MsgTimedOut         = "Timed out"
	MsgPersistFailed    = "Save failed"
)

// ValidationError marks input that cannot be enriched at all, such as a
// record without a usable URL. No network call is made.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// FetchError wraps a content fetch failure. It is never terminal for a record.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError wraps a failed extraction call or unparseable output.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a record store write failure. It is surfaced to the
// caller and never retried.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that an enrichment exceeded its wall-clock budget.
type TimeoutError struct {
	Budget string
}

func (e *TimeoutError) Error() string {
	return "enrichment exceeded budget of " + e.Budget
}

// Describe converts a per-record error into the error/details pair stored on
// the record.
func Describe(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	var (
		validation *ValidationError
		extraction *ExtractionError
		fetch      *FetchError
		timeout    *TimeoutError
		persist    *PersistenceError
	)
	switch {
	case errors.As(err, &validation):
		if validation.Msg == MsgNoURL {
			return MsgNoURL, MsgNoURLDetails
		}
		return "Invalid record", validation.Msg
	case errors.As(err, &timeout):
		return MsgTimedOut, timeout.Error()
	case errors.As(err, &extraction):
		return MsgExtractionFailed, extraction.Err.Error()
	case errors.As(err, &fetch):
		return MsgFetchFailed, fetch.Err.Error()
	case errors.As(err, &persist):
		return MsgPersistFailed, persist.Err.Error()
	default:
		return "Unexpected error", err.Error()
	}
}

// ErrNoURL is the validation error for a record without a usable URL.
func ErrNoURL() error {
	return &ValidationError{Msg: MsgNoURL}
}
