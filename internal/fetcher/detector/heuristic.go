// Package detector decides when a probe response needs a rendering browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/fetcher/pagetext"
)

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	// ShortBody marks bodies small enough for the script density check.
	ShortBody int
	// MinTextChars is the least visible text a server-rendered program page has.
	MinTextChars int
}

// NewHeuristic creates a detector. Zero values pick defaults.
func NewHeuristic(shortBody, minTextChars int) *Heuristic {
	if shortBody <= 0 {
		shortBody = 2048
	}
	if minTextChars <= 0 {
		minTextChars = 200
	}
	return &Heuristic{ShortBody: shortBody, MinTextChars: minTextChars}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-v-app"),
}

// ShouldPromote reports whether the probe should be re-fetched headless.
// Error responses are never promoted; they go straight to the search fallback.
func (h *Heuristic) ShouldPromote(probe catalog.FetchResponse) bool {
	if probe.StatusCode != 200 {
		return false
	}
	body := probe.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.ShortBody && scriptHeavy(body) {
		return true
	}
	minText := h.MinTextChars
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			minText *= 2
			break
		}
	}
	return visibleChars(body) < minText
}

func visibleChars(body []byte) int {
	text, err := pagetext.Extract(body)
	if err != nil {
		return len(body)
	}
	return len([]rune(text))
}

// scriptHeavy reports whether script elements cover a quarter of the body.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}
	const (
		open  = "<script"
		close = "</script>"
	)
	covered := 0
	for pos := 0; ; {
		rel := strings.Index(lower[pos:], open)
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			covered += total - start
			break
		}
		content := start + gt + 1
		end := total
		if relEnd := strings.Index(lower[content:], close); relEnd != -1 {
			end = content + relEnd + len(close)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
