// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: run submission and
// inspection, standalone validation, the scheduler audit trail, health
// probes and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/autocast/internal/api/middleware"
	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/pipeline/gate"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
	"github.com/ManuGH/autocast/internal/sched"
)

// Runs is the coordinator surface the API needs.
type Runs interface {
	Start(ctx context.Context, req model.StartRunRequest) (*model.RunRecord, error)
	Status(ctx context.Context, executionID string) (*model.RunRecord, error)
	List(ctx context.Context, limit int) ([]*model.RunRecord, error)
	Cancel(executionID string) bool
}

// Validator runs the quality gate outside a pipeline run.
type Validator interface {
	Run(ctx context.Context, projectID string, opts model.Options) (*model.Manifest, *gate.Report, error)
}

// Ticker is the scheduler surface the API needs.
type Ticker interface {
	Tick(ctx context.Context, ev sched.TickEvent)
	Topics() []sched.Rule
}

// AuditLog reads scheduler decisions.
type AuditLog interface {
	ListAudit(ctx context.Context, limit int) ([]runstore.AuditEntry, error)
}

// Config tunes the HTTP server.
type Config struct {
	Listen     string
	RateLimit  int // requests per minute per client, read endpoints
	ReadyCheck func(ctx context.Context) error
	Version    string
}

// Server is the HTTP front door.
type Server struct {
	cfg       Config
	runs      Runs
	validator Validator
	ticker    Ticker
	audit     AuditLog
	router    chi.Router
}

// New assembles the router. Any dependency may be nil; its endpoints then
// answer 404 so a partial deployment (e.g. no scheduler) stays honest.
func New(cfg Config, runs Runs, validator Validator, ticker Ticker, audit AuditLog) *Server {
	s := &Server{
		cfg:       cfg,
		runs:      runs,
		validator: validator,
		ticker:    ticker,
		audit:     audit,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.SubmitRateLimit())
			r.Post("/runs", s.handleStartRun)
			r.Post("/ticks", s.handleTick)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimit))
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{executionID}", s.handleGetRun)
			r.Delete("/runs/{executionID}", s.handleCancelRun)
			r.Post("/validate/{projectID}", s.handleValidate)
			r.Get("/audit", s.handleAudit)
			r.Get("/topics", s.handleTopics)
		})
	})
	return r
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is cancelled, then drains with
// the given grace period.
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithComponent("api").Info().
		Str("listen", s.cfg.Listen).
		Msg("http server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithComponent("api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// startRunResponse is the accepted-run envelope.
type startRunResponse struct {
	ExecutionID string          `json:"executionId"`
	ProjectID   string          `json:"projectId"`
	Status      model.RunStatus `json:"status"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeNotFound(w)
		return
	}
	var req model.StartRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, model.NewStageError(model.KindValidation, "invalid request body", err))
		return
	}
	req.Trigger = model.TriggerManual
	rec, err := s.runs.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{
		ExecutionID: rec.ExecutionID,
		ProjectID:   rec.ProjectID,
		Status:      rec.Status,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeNotFound(w)
		return
	}
	rec, err := s.runs.Status(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeNotFound(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeNotFound(w)
		return
	}
	executionID := chi.URLParam(r, "executionID")
	if s.runs.Cancel(executionID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		return
	}
	// Not active: either unknown or already sealed.
	rec, err := s.runs.Status(r.Context(), executionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusConflict, rec)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.validator == nil {
		writeNotFound(w)
		return
	}
	projectID := chi.URLParam(r, "projectID")
	if !registry.IsValidProjectID(projectID) {
		writeError(w, model.Errorf(model.KindValidation, "invalid project id %q", projectID))
		return
	}
	var opts model.Options
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&opts); err != nil {
			writeError(w, model.NewStageError(model.KindValidation, "invalid request body", err))
			return
		}
	}
	manifest, report, err := s.validator.Run(r.Context(), projectID, opts)
	if err != nil && model.KindOf(err) != model.KindQualityGateRejected {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approved": err == nil,
		"report":   report,
		"manifest": manifest,
	})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		writeNotFound(w)
		return
	}
	var ev sched.TickEvent
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&ev); err != nil {
			writeError(w, model.NewStageError(model.KindValidation, "invalid request body", err))
			return
		}
	}
	if ev.Source == "" {
		ev.Source = "api"
	}
	ev.ScheduledAt = time.Now().UTC()
	s.ticker.Tick(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, s.ticker.Topics())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audit.ListAudit(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []runstore.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ReadyCheck != nil {
		if err := s.cfg.ReadyCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
