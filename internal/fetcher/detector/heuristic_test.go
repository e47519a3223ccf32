package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

func richPage() []byte {
	para := "<p>" + strings.Repeat("Der Studiengang vermittelt Grundlagen der Informatik. ", 10) + "</p>"
	return []byte("<html><body><h1>Informatik B.Sc.</h1>" + para + "</body></html>")
}

func TestShouldPromoteEmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, 0)
	require.True(t, h.ShouldPromote(catalog.FetchResponse{StatusCode: 200, Body: []byte("  ")}))
}

func TestShouldPromoteShellMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 50)
	require.True(t, h.ShouldPromote(catalog.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><div id="__next"></div></body></html>`),
	}))
}

func TestShouldPromoteScriptHeavy(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000, 1)
	require.True(t, h.ShouldPromote(catalog.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}))
}

func TestShouldPromoteKeepsRichPages(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 200)
	require.False(t, h.ShouldPromote(catalog.FetchResponse{StatusCode: 200, Body: richPage()}))
}

func TestShouldPromoteNeverForErrors(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 200)
	require.False(t, h.ShouldPromote(catalog.FetchResponse{StatusCode: 404, Body: []byte("not found")}))
	require.False(t, h.ShouldPromote(catalog.FetchResponse{StatusCode: 500}))
}

func TestScriptHeavyHandlesUnclosedTags(t *testing.T) {
	t.Parallel()

	require.True(t, scriptHeavy([]byte(`<p>x</p><script src="a.js"`)))
	require.False(t, scriptHeavy([]byte(strings.Repeat("<p>text</p>", 40)+`<script>1</script>`)))
}
