package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/course-enricher/internal/batch"
	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/config"
	"github.com/JakeFAU/course-enricher/internal/server"
	"github.com/JakeFAU/course-enricher/internal/smartid"
)

type fakeApp struct {
	served      bool
	triggered   bool
	closed      int
	scrapeIDs   []string
	skip        bool
	persist     bool
	imported    string
	scrapeErr   error
	serveErr    error
	importCount int
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return f.serveErr
}

func (f *fakeApp) RunTrigger(context.Context) error {
	f.triggered = true
	return nil
}

func (f *fakeApp) Scrape(
	_ context.Context,
	ids []string,
	skipCompleted bool,
	persist bool,
	onProgress batch.ProgressFunc,
) (string, []batch.Result, error) {
	f.scrapeIDs = ids
	f.skip = skipCompleted
	f.persist = persist
	if f.scrapeErr != nil {
		return "", nil, f.scrapeErr
	}
	rec := catalog.NewRecord("id", "a")
	onProgress(1, 2, &rec)
	onProgress(2, 2, nil)
	return "run-1", []batch.Result{
		{ID: "a", Updates: catalog.NewRecord("degree", "Master")},
		{ID: "b", Err: catalog.ErrNoURL()},
	}, nil
}

func (f *fakeApp) Import(_ context.Context, r io.Reader) (server.ImportReport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return server.ImportReport{}, err
	}
	f.imported = string(data)
	return server.ImportReport{
		Imported:   f.importCount,
		Collisions: []smartid.Collision{{ID: "BER-M-CS-1", Count: 2}},
	}, nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestScrapeCommandPrintsResults(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	stdout, stderr, err := run(t, "scrape", "--ids", "a,b", "--skip-completed", "--persist")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, app.scrapeIDs)
	assert.True(t, app.skip)
	assert.True(t, app.persist)
	assert.Equal(t, 1, app.closed)

	var out struct {
		RunID   string           `json:"run_id"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "run-1", out.RunID)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "No URL found", out.Results[1]["error"])

	assert.Contains(t, stderr, "[1/2] a")
	assert.Contains(t, stderr, "[2/2] done")
	assert.Contains(t, stderr, "1 enriched, 1 failed")
}

func TestScrapeCommandPropagatesErrors(t *testing.T) {
	app := &fakeApp{scrapeErr: catalog.ErrNotFound}
	withFakeApp(t, app)

	_, _, err := run(t, "scrape")
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	assert.Nil(t, app.scrapeIDs)
}

func TestImportCommand(t *testing.T) {
	app := &fakeApp{importCount: 3}
	withFakeApp(t, app)

	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"Informatik"}]`), 0o600))

	stdout, _, err := run(t, "import", path)
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"Informatik"}]`, app.imported)
	assert.Contains(t, stdout, "imported 3 rows")
	assert.Contains(t, stdout, "smart id BER-M-CS-1 assigned to 2 rows")
}

func TestImportCommandRequiresFile(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, _, err := run(t, "import")
	require.Error(t, err)

	_, _, err = run(t, "import", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open import file")
}

func TestServeAndTriggerCommands(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, _, err := run(t, "serve")
	require.NoError(t, err)
	assert.True(t, app.served)

	_, _, err = run(t, "trigger")
	require.NoError(t, err)
	assert.True(t, app.triggered)
}

func TestServeIgnoresCancellation(t *testing.T) {
	withFakeApp(t, &fakeApp{serveErr: context.Canceled})

	_, _, err := run(t, "serve")
	require.NoError(t, err)
}

func TestRootFailsOnBadConfig(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, _, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
