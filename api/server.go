// Package api is the small HTTP surface over the engine: unit search,
// run-now jobs, the run log and source health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/services"
	"github.com/roxie-moxie/moxie-buildings-sub000/storage"
)

const (
	defaultStaleAfter = 48 * time.Hour
	maxListLimit      = 1000
)

type UnitSearcher interface {
	Search(ctx context.Context, p services.SearchParams) ([]models.UnitView, error)
}

type JobTracker interface {
	Start(sourceID int64) (models.Job, error)
	Get(jobID string) (models.Job, bool)
}

type SourceReader interface {
	GetSource(ctx context.Context, id int64) (*models.Source, error)
	ListRuns(ctx context.Context, sourceID int64, limit int) ([]models.ScrapeRun, error)
}

type HealthReporter interface {
	Report(ctx context.Context, staleAfter time.Duration) (*services.HealthReport, error)
}

// Ops is the operational store: the commands queue and persisted logs.
type Ops interface {
	EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error)
	RecentLogs(ctx context.Context, limit int) ([]models.ScrapeLog, error)
}

type Server struct {
	units   UnitSearcher
	jobs    JobTracker
	sources SourceReader
	health  HealthReporter
	ops     Ops
}

func NewServer(units UnitSearcher, jobs JobTracker, sources SourceReader, health HealthReporter, ops Ops) *Server {
	return &Server{units: units, jobs: jobs, sources: sources, health: health, ops: ops}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Get("/units", s.handleUnits)
	r.Get("/runs", s.handleRuns)
	r.Get("/health", s.handleHealth)

	r.Post("/sources/{id}/run", s.handleRunSource)
	r.Get("/jobs/{id}", s.handleJob)

	if s.ops != nil {
		r.Get("/logs", s.handleLogs)
		r.Post("/batch", s.enqueue(models.CmdScrapeNow))
		r.Post("/pause", s.enqueue(models.CmdPause))
		r.Post("/resume", s.enqueue(models.CmdResume))
	}
	return r
}

// GET /units?bed_type=1BR,2BR&rent_min=1500&rent_max=2500&available_before=2026-11-01&neighborhood=...
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := services.SearchParams{
		BedTypes:            multi(q["bed_type"]),
		Neighborhoods:       multi(q["neighborhood"]),
		AvailableBefore:     q.Get("available_before"),
		IncludeNonCanonical: q.Get("include_non_canonical") == "true",
	}

	var err error
	if p.RentMin, err = optInt(q.Get("rent_min")); err != nil {
		writeError(w, http.StatusBadRequest, "rent_min must be a whole number")
		return
	}
	if p.RentMax, err = optInt(q.Get("rent_max")); err != nil {
		writeError(w, http.StatusBadRequest, "rent_max must be a whole number")
		return
	}

	units, err := s.units.Search(r.Context(), p)
	if errors.Is(err, services.ErrInvalidFilter) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("Unit search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if units == nil {
		units = []models.UnitView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(units), "units": units})
}

// POST /sources/{id}/run
func (s *Server) handleRunSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	src, err := s.sources.GetSource(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		log.Printf("Get source %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !src.Active {
		writeError(w, http.StatusConflict, "source is inactive")
		return
	}

	job, err := s.jobs.Start(id)
	if errors.Is(err, services.ErrJobConflict) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "job": job})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GET /jobs/{id}
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /runs?source_id=12&limit=50
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var sourceID int64
	if v := q.Get("source_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid source_id")
			return
		}
		sourceID = id
	}

	runs, err := s.sources.ListRuns(r.Context(), sourceID, limit(q.Get("limit")))
	if err != nil {
		log.Printf("List runs: %v", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []models.ScrapeRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GET /health?stale_hours=48
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	staleAfter := defaultStaleAfter
	if v := r.URL.Query().Get("stale_hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			writeError(w, http.StatusBadRequest, "invalid stale_hours")
			return
		}
		staleAfter = time.Duration(h) * time.Hour
	}

	report, err := s.health.Report(r.Context(), staleAfter)
	if err != nil {
		log.Printf("Health report: %v", err)
		writeError(w, http.StatusInternalServerError, "health report failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.ops.RecentLogs(r.Context(), limit(r.URL.Query().Get("limit")))
	if err != nil {
		log.Printf("Recent logs: %v", err)
		writeError(w, http.StatusInternalServerError, "list logs failed")
		return
	}
	if logs == nil {
		logs = []models.ScrapeLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) enqueue(cmd models.CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.ops.EnqueueCommand(r.Context(), cmd, models.CommandParams{})
		if err != nil {
			log.Printf("Enqueue %s: %v", cmd, err)
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"command_id": id, "command": cmd})
	}
}

// multi accepts both repeated parameters and comma-separated values.
func multi(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func optInt(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func limit(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
