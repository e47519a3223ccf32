// Package server builds the enricher's dependency graph and runs it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/course-enricher/internal/api"
	"github.com/JakeFAU/course-enricher/internal/batch"
	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/clock/system"
	"github.com/JakeFAU/course-enricher/internal/config"
	"github.com/JakeFAU/course-enricher/internal/enrich"
	eventsmemory "github.com/JakeFAU/course-enricher/internal/events/memory"
	eventspubsub "github.com/JakeFAU/course-enricher/internal/events/pubsub"
	"github.com/JakeFAU/course-enricher/internal/extract"
	"github.com/JakeFAU/course-enricher/internal/extract/gemini"
	"github.com/JakeFAU/course-enricher/internal/fetcher"
	collyfetcher "github.com/JakeFAU/course-enricher/internal/fetcher/colly"
	"github.com/JakeFAU/course-enricher/internal/fetcher/detector"
	headlessfetcher "github.com/JakeFAU/course-enricher/internal/fetcher/headless"
	"github.com/JakeFAU/course-enricher/internal/grid"
	"github.com/JakeFAU/course-enricher/internal/hash/sha256"
	"github.com/JakeFAU/course-enricher/internal/id/uuid"
	"github.com/JakeFAU/course-enricher/internal/logging"
	"github.com/JakeFAU/course-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/course-enricher/internal/progress"
	progresssinks "github.com/JakeFAU/course-enricher/internal/progress/sinks"
	"github.com/JakeFAU/course-enricher/internal/smartid"
	gcsstorage "github.com/JakeFAU/course-enricher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/course-enricher/internal/storage/local"
	memorystorage "github.com/JakeFAU/course-enricher/internal/storage/memory"
	pgstore "github.com/JakeFAU/course-enricher/internal/storage/postgres"
	"github.com/JakeFAU/course-enricher/internal/store"
	"github.com/JakeFAU/course-enricher/internal/telemetry"
	"github.com/JakeFAU/course-enricher/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

// recordBackend is what the app needs from a record store: the CRUD surface
// plus the change stream feeding the trigger path.
type recordBackend interface {
	catalog.RecordStore
	catalog.Watcher
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	records   recordBackend
	pgRecords *pgstore.RecordStore
	runStore  *pgstore.RunStore
	runs      store.RunRepository

	orchestrator *batch.Orchestrator
	handler      *trigger.Handler
	reaper       *trigger.Reaper
	apiServer    *api.Server

	progressHub     *progress.Hub
	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	eventsPublisher *eventspubsub.Publisher
	storage         *storage.Client
	tracerShutdown  func(context.Context) error

	closeOnce sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("records_backend", cfg.Records.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("trigger_source", cfg.Trigger.Source),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		app.closeObservability(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupRecords(ctx); err != nil {
		return err
	}
	if err := a.setupRuns(ctx); err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}
	enricher, err := a.setupEnricher(ctx, blobs)
	if err != nil {
		return err
	}

	clock := system.New()
	a.orchestrator, err = batch.New(enricher, clock, clock, uuid.New(), emitter, batch.Config{
		ChunkSize:  a.cfg.Batch.ChunkSize,
		ChunkDelay: a.cfg.Batch.ChunkDelay,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.handler, err = trigger.NewHandler(a.records, enricher, clock, emitter, trigger.Config{
		Budget: a.cfg.Trigger.Budget,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("trigger handler init failed: %w", err)
	}
	a.reaper, err = trigger.NewReaper(a.records, clock, trigger.ReaperConfig{
		Interval: a.cfg.Trigger.ReaperInterval,
		Budget:   a.cfg.Trigger.Budget,
		Grace:    a.cfg.Trigger.ReaperGrace,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("reaper init failed: %w", err)
	}

	a.apiServer, err = api.NewServer(api.Deps{
		Records: a.records,
		Scraper: a.orchestrator,
		Runs:    a.runs,
		Ready:   a.ready,
	}, a.cfg, a.logger.Named("api"))
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	return nil
}

func (a *App) setupRecords(ctx context.Context) error {
	if a.cfg.Records.Backend != "postgres" {
		a.logger.Info("using in-memory record store")
		a.records = memorystorage.NewRecordStore()
		return nil
	}
	pg, err := pgstore.NewRecordStore(ctx, pgstore.RecordStoreConfig{
		Pool:    a.poolConfig(a.cfg.Records.DSN),
		Table:   a.cfg.Records.Table,
		Channel: a.cfg.Records.Channel,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	a.pgRecords = pg
	a.records = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("record schema init failed: %w", err)
	}
	a.logger.Info("postgres record store initialized",
		zap.String("table", a.cfg.Records.Table),
		zap.String("channel", a.cfg.Records.Channel),
	)
	return nil
}

func (a *App) setupRuns(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("No DSN specified for database, skipping run repository initialization")
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, a.poolConfig(a.cfg.Database.DSN))
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore = runStore
	a.runs = runStore
	return nil
}

func (a *App) poolConfig(dsn string) pgstore.PoolConfig {
	return pgstore.PoolConfig{
		DSN:             dsn,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	}
}

func (a *App) setupStorage(ctx context.Context) (catalog.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if a.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus progress sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) setupEnricher(ctx context.Context, blobs catalog.BlobStore) (*enrich.Enricher, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	})
	a.logger.Info("using colly probe fetcher", zap.String("user_agent", a.cfg.Fetch.UserAgent))

	var (
		headless catalog.Fetcher
		detect   catalog.HeadlessDetector
	)
	if a.cfg.Fetch.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Fetch.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Fetch.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, continuing without promotion", zap.Error(err))
		} else {
			a.headless = f
			headless = f
			detect = detector.NewHeuristic(a.cfg.Fetch.Headless.PromotionThresh, a.cfg.Fetch.Headless.MinTextChars)
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Fetch.Headless.MaxParallel))
		}
	}
	reader, err := fetcher.NewReader(probe, headless, detect, a.logger)
	if err != nil {
		return nil, fmt.Errorf("page reader init failed: %w", err)
	}

	client, err := gemini.New(ctx, gemini.Config{
		APIKey:      a.cfg.Extract.APIKey,
		Model:       a.cfg.Extract.Model,
		Temperature: a.cfg.Extract.Temperature,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("extraction client init failed: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.Extract.RPS, Burst: a.cfg.Extract.Burst})
	extractor := extract.NewPaced(client, limiter, a.cfg.Extract.Model)

	archiver, err := enrich.NewArchiver(blobs, sha256.New(), a.cfg.Storage.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archiver init failed: %w", err)
	}
	enricher, err := enrich.New(reader, extractor, archiver, enrich.Config{
		MaxTextChars:  a.cfg.Extract.MaxTextChars,
		SearchEnabled: a.cfg.Extract.SearchEnabled,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("enricher init failed: %w", err)
	}
	return enricher, nil
}

// setupPubSub opens the Pub/Sub client once, on first use.
func (a *App) setupPubSub(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.logger.Info("Pub/Sub client initialized", zap.String("project", a.cfg.PubSub.ProjectID))
	return client, nil
}

func (a *App) triggerSource(ctx context.Context) (trigger.Source, error) {
	if a.cfg.Trigger.Source == "pubsub" {
		client, err := a.setupPubSub(ctx)
		if err != nil {
			return nil, err
		}
		return eventspubsub.NewSubscriber(client, a.cfg.PubSub.Subscription, a.logger)
	}
	return trigger.NewWatchSource(a.records, a.logger)
}

// forwarder republishes store changes when a topic is configured. Without a
// project the events stay in process, which keeps the forwarder observable
// in development.
func (a *App) forwarder(ctx context.Context) (*trigger.Forwarder, error) {
	if a.cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	var publisher catalog.Publisher
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub project configured, forwarding change events in memory")
		publisher = eventsmemory.New()
	} else {
		client, err := a.setupPubSub(ctx)
		if err != nil {
			return nil, err
		}
		if a.eventsPublisher == nil {
			a.eventsPublisher, err = eventspubsub.NewPublisher(client)
			if err != nil {
				return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
			}
		}
		publisher = a.eventsPublisher
	}
	return trigger.NewForwarder(a.records, publisher, a.cfg.PubSub.TopicName, a.logger)
}

func (a *App) ready(ctx context.Context) error {
	if a.pgRecords != nil {
		return a.pgRecords.Ping(ctx)
	}
	return nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP API, the change-event forwarder and, when enabled, the
// trigger path until SIGINT/SIGTERM or ctx ends.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fwd, err := a.forwarder(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Trigger.Enabled {
		g.Go(func() error { return a.runTrigger(gctx) })
	}
	if fwd != nil {
		g.Go(func() error {
			a.logger.Info("change forwarder started", zap.String("topic", a.cfg.PubSub.TopicName))
			return fwd.Run(gctx)
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// RunTrigger runs only the trigger path: dispatcher workers fed by the
// configured source plus the reaper.
func (a *App) RunTrigger(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := a.runTrigger(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) runTrigger(ctx context.Context) error {
	src, err := a.triggerSource(ctx)
	if err != nil {
		return fmt.Errorf("trigger source init failed: %w", err)
	}
	dispatch, err := trigger.NewDispatcher(a.handler, trigger.DispatcherConfig{
		MaxInstances: a.cfg.Trigger.MaxInstances,
		QueueDepth:   a.cfg.Trigger.QueueDepth,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.reaper.Run(ctx)
	}()

	a.logger.Info("trigger dispatcher started",
		zap.String("source", a.cfg.Trigger.Source),
		zap.Int("max_instances", a.cfg.Trigger.MaxInstances),
		zap.Duration("budget", a.cfg.Trigger.Budget),
	)
	err = dispatch.Serve(ctx, src)
	cancel()
	<-done
	return err
}

// Scrape runs the batch orchestrator over the stored records named by ids
// (every record when ids is empty) and merges the results into the stored
// rows. With persist, the merged rows are written back once the batch ends.
func (a *App) Scrape(
	ctx context.Context,
	ids []string,
	skipCompleted bool,
	persist bool,
	onProgress batch.ProgressFunc,
) (string, []batch.Result, error) {
	rows, err := a.records.List(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("list records: %w", err)
	}
	selected, missing := batch.SelectRecords(rows, ids)
	if len(missing) > 0 {
		return "", nil, fmt.Errorf("%w: %v", catalog.ErrNotFound, missing)
	}
	selected = batch.FilterPending(selected, skipCompleted)

	runID, results := a.orchestrator.ScrapeRun(ctx, selected, onProgress)
	if !persist || len(results) == 0 {
		return runID, results, nil
	}

	table := grid.NewTable(nil)
	table.Load(rows)
	updates := make([]grid.Update, 0, len(results))
	scraped := make([]string, 0, len(results))
	for _, res := range results {
		updates = append(updates, grid.Update{ID: res.ID, Fields: res.Fields()})
		scraped = append(scraped, res.ID)
	}
	table.Apply(updates)
	// The batch may have outlived ctx; the write-back still has to land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.records.Upsert(writeCtx, table.Select(scraped...)); err != nil {
		return runID, results, &catalog.PersistenceError{Op: "scrape results", Err: err}
	}
	return runID, results, nil
}

// ImportReport summarizes an import.
type ImportReport struct {
	Imported   int
	Collisions []smartid.Collision
}

// Import reads a JSON array of rows, keys each by its Smart ID and upserts
// them. Collisions are logged and reported; colliding rows merge.
func (a *App) Import(ctx context.Context, r io.Reader) (ImportReport, error) {
	var rows []catalog.Record
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rows); err != nil {
		return ImportReport{}, fmt.Errorf("decode import: %w", err)
	}
	keyed, collisions := smartid.Assign(rows, smartid.DefaultTable())
	for _, c := range collisions {
		a.logger.Warn("smart id collision", zap.String("smart_id", c.ID), zap.Int("count", c.Count))
	}
	if len(keyed) > 0 {
		if err := a.records.Upsert(ctx, keyed); err != nil {
			return ImportReport{}, &catalog.PersistenceError{Op: "import", Err: err}
		}
	}
	a.logger.Info("import complete", zap.Int("rows", len(keyed)), zap.Int("collisions", len(collisions)))
	return ImportReport{Imported: len(keyed), Collisions: collisions}, nil
}

// Close gracefully shuts down the application. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		a.closeObservability(ctx)
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.eventsPublisher != nil {
		a.eventsPublisher.Close()
		a.eventsPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pgRecords != nil {
		a.pgRecords.Close()
		a.pgRecords = nil
	}
	if a.runStore != nil {
		a.runStore.Close()
		a.runStore = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	// Sync fails on stderr-backed cores; nothing useful to do about it.
	_ = a.logger.Sync()
}
