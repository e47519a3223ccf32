package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/course-enricher/internal/batch"
	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/grid"
)

type gridResponse struct {
	Columns []grid.Column    `json:"columns"`
	Rows    []catalog.Record `json:"rows"`
}

type statusRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type scrapeRequest struct {
	IDs           []string `json:"ids"`
	SkipCompleted bool     `json:"skip_completed"`
	Persist       bool     `json:"persist"`
}

type scrapeResponse struct {
	RunID   string           `json:"run_id"`
	Results []batch.Result   `json:"results"`
	Columns []grid.Column    `json:"columns"`
	Rows    []catalog.Record `json:"rows"`
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	rows, err := s.records.List(r.Context())
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	table := grid.NewTable(s.layout)
	table.Load(rows)
	writeJSON(w, http.StatusOK, gridResponse{Columns: table.Columns(), Rows: table.Rows()})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("get record failed", zap.Error(err), zap.String("record_id", id))
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) upsertRecords(w http.ResponseWriter, r *http.Request) {
	var rows []catalog.Record
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "at least one record required")
		return
	}
	if err := s.records.Upsert(r.Context(), rows); err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("upsert records failed", zap.Error(err), zap.Int("count", len(rows)))
		writeError(w, http.StatusInternalServerError, "failed to save records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upserted": len(rows)})
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids required")
		return
	}
	status, err := catalog.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.records.SetStatus(r.Context(), req.IDs, status); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("set status failed", zap.Error(err), zap.Stringer("status", status))
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(req.IDs), "status": status.String()})
}

// scrapeRecords runs one synchronous batch. Results are merged into the
// returned grid; with persist set, the merged rows are written back after the
// whole batch has finished.
func (s *Server) scrapeRecords(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rows, err := s.records.List(r.Context())
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	selected, missing := batch.SelectRecords(rows, req.IDs)
	if len(missing) > 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown record ids: %v", missing))
		return
	}
	selected = batch.FilterPending(selected, req.SkipCompleted)

	runID, results := s.scraper.ScrapeRun(r.Context(), selected, func(processed, total int, _ *catalog.Record) {
		s.logger.Debug("scrape progress", zap.Int("processed", processed), zap.Int("total", total))
	})

	table := grid.NewTable(s.layout)
	table.Load(rows)
	updates := make([]grid.Update, 0, len(results))
	for _, res := range results {
		updates = append(updates, grid.Update{ID: res.ID, Fields: res.Fields()})
	}
	table.Apply(updates)

	if req.Persist && len(results) > 0 {
		if err := s.persist(r, table, results); err != nil {
			s.logger.Error("persist scrape results failed", zap.Error(err), zap.String("run_id", runID))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		RunID:   runID,
		Results: results,
		Columns: table.Columns(),
		Rows:    table.Rows(),
	})
}

func (s *Server) persist(r *http.Request, table *grid.Table, results []batch.Result) error {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.ID)
	}
	if err := s.records.Upsert(r.Context(), table.Select(ids...)); err != nil {
		return &catalog.PersistenceError{Op: "scrape results", Err: err}
	}
	return nil
}
