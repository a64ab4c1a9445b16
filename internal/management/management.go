// Package management provides the gateway's JSON-over-HTTP control plane:
// CRUD on provider endpoints and workspaces/mux rules, workspace lifecycle
// (activate/archive/recover/delete), audit log readout, and liveness/metrics.
//
// Grounded on the teacher's internal/management/management.go (bearer-token
// authMiddleware, writeJSON helper, ListenAndServe shape) generalized from a
// stdlib http.ServeMux with three flat handlers to a github.com/go-chi/chi
// router with nested routes, following agentoven-agentoven/control-plane's
// internal/api/router.go (chi + go-chi/cors + chi's own RequestID/Recoverer
// middleware, r.Route for resource nesting).
package management

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntax-syndicate/codegate-alt/internal/logger"
	"github.com/syntax-syndicate/codegate-alt/internal/metrics"
	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// ProviderEndpoints is the subset of provider.Registry the management API
// needs, kept narrow so this package does not import internal/provider
// directly.
type ProviderEndpoints interface {
	Upsert(ep model.ProviderEndpoint)
	Remove(id string)
	Lookup(id string) (model.ProviderEndpoint, bool)
	All() []model.ProviderEndpoint
}

// Workspaces is the subset of workspace.Registry the management API needs.
type Workspaces interface {
	Resolve(id string) (model.Workspace, bool)
	All() []model.Workspace
	Create(name, customInstructions string) model.Workspace
	Archive(id string) error
	Recover(id string) error
	Delete(id string) error
	Activate(id string) error
	SetMuxRules(id string, rules []model.MuxRule) error
}

// AuditReader is the subset of audit.Sink the management API needs for
// GET /prompts and GET /alerts.
type AuditReader interface {
	Prompts(workspaceID string, limit int) ([]model.PromptRecord, error)
	Alerts(limit int) ([]model.AlertRecord, error)
}

// Server is the management API server.
type Server struct {
	startTime time.Time
	providers ProviderEndpoints
	workspaces Workspaces
	audit     AuditReader
	metrics   *metrics.Metrics
	log       *logger.Logger
	token     string // bearer token for auth; empty = no auth
}

// New creates a management server.
func New(providers ProviderEndpoints, workspaces Workspaces, audit AuditReader, m *metrics.Metrics, log *logger.Logger, token string) *Server {
	return &Server{
		startTime:  time.Now(),
		providers:  providers,
		workspaces: workspaces,
		audit:      audit,
		metrics:    m,
		log:        log,
		token:      token,
	}
}

// Handler returns the HTTP handler for the management API, mounted under
// /api/v1 per spec's management surface, plus /health and /metrics at root.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.authMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/provider-endpoints", func(r chi.Router) {
			r.Get("/", s.listProviderEndpoints)
			r.Post("/", s.createProviderEndpoint)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getProviderEndpoint)
				r.Put("/", s.updateProviderEndpoint)
				r.Delete("/", s.deleteProviderEndpoint)
			})
		})

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", s.listWorkspaces)
			r.Post("/", s.createWorkspace)
			r.Get("/archive", s.listArchivedWorkspaces)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getWorkspace)
				r.Delete("/", s.deleteWorkspace)
				r.Post("/activate", s.activateWorkspace)
				r.Post("/recover", s.recoverWorkspace)
				r.Route("/muxes", func(r chi.Router) {
					r.Get("/", s.getMuxRules)
					r.Put("/", s.setMuxRules)
				})
			})
		})

		r.Get("/prompts", s.listPrompts)
		r.Get("/alerts", s.listAlerts)
	})

	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			if s.log != nil {
				s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

// --- provider endpoints ---

func (s *Server) listProviderEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.providers.All())
}

func (s *Server) createProviderEndpoint(w http.ResponseWriter, r *http.Request) {
	var ep model.ProviderEndpoint
	if !decodeJSON(w, r, &ep) {
		return
	}
	if ep.ID == "" || ep.Kind == "" {
		http.Error(w, "id and kind are required", http.StatusBadRequest)
		return
	}
	s.providers.Upsert(ep)
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) getProviderEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.providers.Lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "provider endpoint not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) updateProviderEndpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ep model.ProviderEndpoint
	if !decodeJSON(w, r, &ep) {
		return
	}
	ep.ID = id
	s.providers.Upsert(ep)
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) deleteProviderEndpoint(w http.ResponseWriter, r *http.Request) {
	s.providers.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// --- workspaces ---

func (s *Server) resolveByName(name string) (model.Workspace, bool) {
	for _, ws := range s.workspaces.All() {
		if ws.Name == name {
			return ws, true
		}
	}
	return model.Workspace{}, false
}

func (s *Server) listWorkspaces(w http.ResponseWriter, _ *http.Request) {
	var out []model.Workspace
	for _, ws := range s.workspaces.All() {
		if ws.State != model.WorkspaceArchived {
			out = append(out, ws)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listArchivedWorkspaces(w http.ResponseWriter, _ *http.Request) {
	var out []model.Workspace
	for _, ws := range s.workspaces.All() {
		if ws.State == model.WorkspaceArchived {
			out = append(out, ws)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name               string `json:"name"`
		CustomInstructions string `json:"custom_instructions"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	ws := s.workspaces.Create(req.Name, req.CustomInstructions)
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.resolveByName(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.resolveByName(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	if err := s.workspaces.Delete(ws.ID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activateWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.resolveByName(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	if err := s.workspaces.Activate(ws.ID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"activated": ws.Name})
}

func (s *Server) recoverWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.resolveByName(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	if err := s.workspaces.Recover(ws.ID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"recovered": ws.Name})
}

func (s *Server) getMuxRules(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.resolveByName(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ws.MuxRules)
}

func (s *Server) setMuxRules(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.resolveByName(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}
	var rules []model.MuxRule
	if !decodeJSON(w, r, &rules) {
		return
	}
	if err := s.workspaces.SetMuxRules(ws.ID, rules); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// --- audit readout ---

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.audit.Prompts(r.URL.Query().Get("workspace_id"), 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (s *Server) listAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts, err := s.audit.Alerts(0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the management HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	if s.log != nil {
		s.log.Infof("startup", "management API listening on %s", addr)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
