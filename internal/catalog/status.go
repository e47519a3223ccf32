package catalog

import (
	"fmt"
	"strings"
)

// Status represents the enrichment lifecycle state of a record.
type Status string

// Status values persisted in scrape_status. Unscraped is the implicit state
// of a record that has no status field.
const (
	StatusUnscraped Status = ""
	StatusPending   Status = "PENDING_SCRAPE"
	StatusScraping  Status = "SCRAPING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// Terminal reports whether no further automatic transition follows.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s == StatusUnscraped {
		return "UNSCRAPED"
	}
	return string(s)
}

// ParseStatus accepts the persisted spelling (case-insensitive). "UNSCRAPED"
// and "" both map to StatusUnscraped.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "UNSCRAPED":
		return StatusUnscraped, nil
	case string(StatusPending):
		return StatusPending, nil
	case string(StatusScraping):
		return StatusScraping, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusError):
		return StatusError, nil
	default:
		return "", &ValidationError{Msg: fmt.Sprintf("unknown scrape status %q", raw)}
	}
}

// ShouldActivate is the trigger guard: a write activates enrichment only when
// it moves a record into PENDING_SCRAPE from any other state. Re-writing
// PENDING_SCRAPE over PENDING_SCRAPE never activates.
func ShouldActivate(prev, next Status) bool {
	return next == StatusPending && prev != StatusPending
}

var transitions = map[Status][]Status{
	StatusUnscraped: {StatusPending},
	StatusPending:   {StatusScraping, StatusError},
	StatusScraping:  {StatusCompleted, StatusError},
	StatusCompleted: {StatusPending},
	StatusError:     {StatusPending},
}

// CanTransition reports whether from -> to is part of the lifecycle.
// Writing the same status again is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
