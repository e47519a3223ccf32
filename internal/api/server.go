package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/batch"
	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/config"
	"github.com/JakeFAU/course-enricher/internal/grid"
	"github.com/JakeFAU/course-enricher/internal/metrics"
	"github.com/JakeFAU/course-enricher/internal/store"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readyTimeout          = 2 * time.Second
)

// Scraper runs the synchronous batch path.
type Scraper interface {
	ScrapeRun(ctx context.Context, records []catalog.Record, onProgress batch.ProgressFunc) (string, []batch.Result)
}

// Deps are the collaborators behind the routes. Runs, Layout and Ready are
// optional.
type Deps struct {
	Records catalog.RecordStore
	Scraper Scraper
	Runs    store.RunRepository
	Layout  grid.LayoutFunc
	Ready   func(context.Context) error
}

// Server wires HTTP handlers to the record store and the orchestrator.
type Server struct {
	router  chi.Router
	records catalog.RecordStore
	scraper Scraper
	layout  grid.LayoutFunc
	ready   func(context.Context) error
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if deps.Records == nil || deps.Scraper == nil {
		return nil, errors.New("api server needs a record store and a scraper")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		records: deps.Records,
		scraper: deps.Scraper,
		layout:  deps.Layout,
		ready:   deps.Ready,
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	runs := NewRunHandler(deps.Runs, logger.Named("runs"))

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Batches pace themselves for minutes; only the short routes get the
		// request timeout.
		r.Post("/records/scrape", s.scrapeRecords)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Get("/records", s.listRecords)
			r.Put("/records", s.upsertRecords)
			r.Post("/records/status", s.setStatus)
			r.Get("/records/{id}", s.getRecord)

			r.Get("/runs", runs.ListRuns)
			r.Get("/runs/{run_id}", runs.GetRun)
			r.Get("/runs/{run_id}/sites", runs.ListRunSites)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
