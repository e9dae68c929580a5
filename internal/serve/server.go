// Package serve exposes the collection pipeline over HTTP: run
// management, canonical record queries, and source health.
package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/collect"
	"github.com/hooplab/statsync/internal/export"
	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/monitoring"
	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/store"
)

// Server wires the HTTP API to the coordinator and store.
type Server struct {
	store       store.Store
	coordinator *collect.Coordinator
	gate        *ratelimit.Gate
	collector   *monitoring.Collector
}

// New creates the API server.
func New(st store.Store, co *collect.Coordinator, gate *ratelimit.Gate, mc *monitoring.Collector) *Server {
	return &Server{store: st, coordinator: co, gate: gate, collector: mc}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/records", s.handleRecords)
		r.Get("/records/{season}/{team}/{player}/history", s.handleHistory)
		r.Get("/runs", s.handleListRuns)
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
		r.Get("/sources/health", s.handleSourceHealth)
		r.Get("/metrics", s.handleMetrics)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRecords serves canonical records. With no run_id or version the
// latest committed version for the season is returned. format=csv
// switches to the flat season export.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	season, err := strconv.Atoi(q.Get("season"))
	if err != nil || season <= 0 {
		writeError(w, http.StatusBadRequest, "season is required")
		return
	}

	query := store.RecordQuery{
		Season: season,
		Team:   q.Get("team"),
		Player: q.Get("player"),
		RunID:  q.Get("run_id"),
	}
	if v := q.Get("version"); v != "" {
		query.Version, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("min_minutes"); v != "" {
		query.MinMinutes, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("min_games"); v != "" {
		query.MinGames, _ = strconv.ParseFloat(v, 64)
	}

	records, err := s.store.Query(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if q.Get("format") == "csv" {
		body, err := export.CSVBytes(records)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="stats_%d.csv"`, season))
		w.WriteHeader(http.StatusOK)
		w.Write(body) //nolint:errcheck
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"season":  season,
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	season, err := strconv.Atoi(chi.URLParam(r, "season"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid season")
		return
	}
	key := model.EntityKey{
		Name:   chi.URLParam(r, "player"),
		Team:   chi.URLParam(r, "team"),
		Season: season,
	}
	versions, err := s.store.History(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":   key.String(),
		"versions": versions,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Limit:  50,
	}
	if v := q.Get("season"); v != "" {
		filter.Season, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

// handleStartRun accepts a scope and starts a run in the background. The
// response carries only the run ID; progress is polled via GET.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Season   int      `json:"season"`
		Entities []string `json:"entities"`
		Sources  []string `json:"sources"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Season <= 0 {
		writeError(w, http.StatusBadRequest, "season is required")
		return
	}

	runID, err := s.coordinator.StartRun(r.Context(), model.Scope{
		Season:   req.Season,
		Entities: req.Entities,
		Sources:  req.Sources,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	zap.L().Info("run accepted via api", zap.String("run_id", runID), zap.Int("season", req.Season))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": string(model.RunPending)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coordinator.Cancel(id); err != nil {
		if errors.Is(err, collect.ErrRunNotActive) {
			writeError(w, http.StatusConflict, "run is not active")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": id, "status": "cancelling"})
}

// handleSourceHealth reports the gate's live rolling windows, falling
// back to the last persisted snapshot for sources the process has not
// touched yet.
func (s *Server) handleSourceHealth(w http.ResponseWriter, r *http.Request) {
	live := s.gate.Healths()
	out := make([]model.SourceHealth, 0, len(live))
	for _, h := range live {
		out = append(out, h)
	}

	stored, err := s.store.ListSourceHealth(r.Context())
	if err == nil {
		for _, h := range stored {
			if _, ok := live[h.SourceID]; !ok {
				out = append(out, h)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
