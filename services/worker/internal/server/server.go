package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"readmaster/internal/cronauth"
	"readmaster/internal/util"
	"readmaster/services/worker/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App   *app.App
	Guard *cronauth.Guard
}

// Server exposes the worker's cron triggers and internal job lookups.
type Server struct {
	app   *app.App
	guard *cronauth.Guard
	mux   *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server: app is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("server: cron guard is required")
	}
	s := &Server{app: cfg.App, guard: cfg.Guard, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Router returns the configured handler. The worker sits on an internal
// network, so there is no CORS layer.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("worker", nil, util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/cron/streaks", s.withCron(s.cronHandler("streaks", func(ctx context.Context) (any, error) {
		return s.app.RunStreaks(ctx)
	})))
	s.mux.Handle("/cron/similarity", s.withCron(s.cronHandler("similarity", func(ctx context.Context) (any, error) {
		return s.app.RunSimilarity(ctx)
	})))
	s.mux.Handle("/cron/analytics", s.withCron(s.cronHandler("analytics", func(ctx context.Context) (any, error) {
		return s.app.RunAnalytics(ctx)
	})))
	s.mux.Handle("/cron/digests", s.withCron(s.cronHandler("digests", func(ctx context.Context) (any, error) {
		return s.app.RunDigests(ctx)
	})))
	s.mux.Handle("/cron/reminders", s.withCron(s.cronHandler("reminders", func(ctx context.Context) (any, error) {
		return s.app.RunReminders(ctx)
	})))
	s.mux.Handle("/internal/imports/", s.withCron(s.handleImportJob))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withCron(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.guard.Allow(r) {
			slog.Warn("cron auth rejected", "path", r.URL.Path, "request_id", util.RequestIDFromRequest(r))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// cronHandler adapts one batch job into a trigger endpoint that replies
// with the job's report.
func (s *Server) cronHandler(name string, run func(context.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		report, err := run(r.Context())
		if err != nil {
			slog.Error("cron job failed", "job", name, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleImportJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/internal/imports/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	job, ok, err := s.app.ImportJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
