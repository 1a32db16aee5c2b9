// Package webui serves the JSON API and the live event stream used by the
// storepilot dashboard.
package webui

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storepilot/pkg/agent"
	"storepilot/pkg/autopilot"
	"storepilot/pkg/catalog"
	"storepilot/pkg/config"
	"storepilot/pkg/events"
	"storepilot/pkg/logx"
)

// DefaultDecisionLimit applies when /api/decisions has no limit parameter.
const DefaultDecisionLimit = 50

// Orchestrator is the part of the orchestrator the API drives.
type Orchestrator interface {
	AgentStates() []agent.State
	On(h events.Handler) func()
	StartAutoPilot(ctx context.Context, cfg autopilot.Config) (autopilot.Status, error)
	StopAutoPilot() bool
	RunProductDiscoveryWorkflow(ctx context.Context, niche string, opts catalog.ScoutOptions) ([]catalog.Listing, error)
	RunQuickImportWorkflow(ctx context.Context, url string) ([]catalog.Listing, error)
	RunCompetitorAnalysisWorkflow(ctx context.Context, niche string) (catalog.CompetitorReport, error)
}

// AutoPilot is the decision log and status surface of the controller.
type AutoPilot interface {
	Status() autopilot.Status
	Decisions(limit int) []autopilot.Decision
	PendingDecisions() []autopilot.Decision
	ApproveDecision(ctx context.Context, id string) (autopilot.Decision, error)
	RejectDecision(id string) error
	ClearErrors()
	GenerateReport(period autopilot.Period) (autopilot.Report, error)
}

// Server is the web UI HTTP server.
type Server struct {
	orch      Orchestrator
	autopilot AutoPilot
	hub       *Hub
	metrics   http.Handler
	secrets   *config.Secrets
	password  string
	logger    *logx.Logger
	unsub     func()
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithSecrets exposes secret names and edits on /api/secrets.
func WithSecrets(sec *config.Secrets) Option { return func(s *Server) { s.secrets = sec } }

// WithPassword protects every route with Basic Auth (user "storepilot").
func WithPassword(pw string) Option { return func(s *Server) { s.password = pw } }

// NewServer creates a server and starts streaming orchestrator events to
// WebSocket clients.
func NewServer(orch Orchestrator, ap AutoPilot, opts ...Option) *Server {
	s := &Server{
		orch:      orch,
		autopilot: ap,
		hub:       NewHub(),
		logger:    logx.NewLogger("webui"),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.hub.Run()
	s.unsub = orch.On(s.hub.Publish)
	return s
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close detaches from the event stream and disconnects every client.
func (s *Server) Close() {
	s.unsub()
	s.hub.Stop()
}

// requireAuth wraps an HTTP handler with Basic Authentication when a
// password is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.password == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != "storepilot" ||
			subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
			if ok {
				s.logger.Warn("Failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="storepilot"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/agents", s.requireAuth(s.handleAgents))
	mux.HandleFunc("GET /api/agents/{id}", s.requireAuth(s.handleAgent))
	mux.HandleFunc("GET /api/autopilot/status", s.requireAuth(s.handleAutoPilotStatus))
	mux.HandleFunc("POST /api/autopilot/start", s.requireAuth(s.handleAutoPilotStart))
	mux.HandleFunc("POST /api/autopilot/stop", s.requireAuth(s.handleAutoPilotStop))
	mux.HandleFunc("POST /api/autopilot/errors/clear", s.requireAuth(s.handleClearErrors))
	mux.HandleFunc("GET /api/decisions", s.requireAuth(s.handleDecisions))
	mux.HandleFunc("GET /api/decisions/pending", s.requireAuth(s.handlePendingDecisions))
	mux.HandleFunc("POST /api/decisions/{id}/approve", s.requireAuth(s.handleApprove))
	mux.HandleFunc("POST /api/decisions/{id}/reject", s.requireAuth(s.handleReject))
	mux.HandleFunc("GET /api/report", s.requireAuth(s.handleReport))
	mux.HandleFunc("POST /api/workflows/{name}", s.requireAuth(s.handleWorkflow))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("GET /ws/events", s.requireAuth(s.hub.ServeWS))
	if s.secrets != nil {
		mux.HandleFunc("GET /api/secrets", s.requireAuth(s.handleSecretsList))
		mux.HandleFunc("POST /api/secrets", s.requireAuth(s.handleSecretsSet))
		mux.HandleFunc("DELETE /api/secrets/{name}", s.requireAuth(s.handleSecretsDelete))
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// StartServer listens on addr until ctx is cancelled. It returns once the
// listener goroutine is started.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting web UI server on %s", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down web UI server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"autopilot": s.autopilot.Status().Running,
		"clients":   s.hub.ClientCount(),
	})
}

// handleAgents implements GET /api/agents.
func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	states := s.orch.AgentStates()
	s.writeJSON(w, http.StatusOK, states)
	s.logger.Debug("Served agents list: %d agents", len(states))
}

// handleAgent implements GET /api/agents/{id}.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, st := range s.orch.AgentStates() {
		if st.ID == id {
			s.writeJSON(w, http.StatusOK, st)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, fmt.Errorf("agent %q not found", id))
}

func (s *Server) handleAutoPilotStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.autopilot.Status())
}

// handleAutoPilotStart implements POST /api/autopilot/start with an
// autopilot.Config body. It returns after the initial scan.
func (s *Server) handleAutoPilotStart(w http.ResponseWriter, r *http.Request) {
	var cfg autopilot.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	st, err := s.orch.StartAutoPilot(r.Context(), cfg)
	switch {
	case errors.Is(err, autopilot.ErrInvalidConfig):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, autopilot.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleAutoPilotStop(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"was_running": s.orch.StopAutoPilot()})
}

func (s *Server) handleClearErrors(w http.ResponseWriter, _ *http.Request) {
	s.autopilot.ClearErrors()
	w.WriteHeader(http.StatusNoContent)
}

// handleDecisions implements GET /api/decisions?limit=N.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.autopilot.Decisions(limit))
}

func (s *Server) handlePendingDecisions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.autopilot.PendingDecisions())
}

func (s *Server) decisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, autopilot.ErrDecisionNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, autopilot.ErrDecisionNotPending):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	d, err := s.autopilot.ApproveDecision(r.Context(), r.PathValue("id"))
	if err != nil {
		s.decisionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.autopilot.RejectDecision(r.PathValue("id")); err != nil {
		s.decisionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReport implements GET /api/report?period=daily|weekly|monthly.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	period := autopilot.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = autopilot.PeriodDaily
	}
	rep, err := s.autopilot.GenerateReport(period)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

// WorkflowRequest is the body of POST /api/workflows/{name}.
type WorkflowRequest struct {
	Niche   string               `json:"niche,omitempty"`
	URL     string               `json:"url,omitempty"`
	Options catalog.ScoutOptions `json:"options"`
}

// handleWorkflow runs one of the named workflows synchronously. A failing
// step yields 502 with the step error; there is no partial result.
func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	var (
		result any
		err    error
	)
	switch name := r.PathValue("name"); name {
	case "discovery":
		if req.Niche == "" {
			s.writeError(w, http.StatusBadRequest, errors.New("niche is required"))
			return
		}
		result, err = s.orch.RunProductDiscoveryWorkflow(r.Context(), req.Niche, req.Options)
	case "import":
		if req.URL == "" {
			s.writeError(w, http.StatusBadRequest, errors.New("url is required"))
			return
		}
		result, err = s.orch.RunQuickImportWorkflow(r.Context(), req.URL)
	case "competitors":
		if req.Niche == "" {
			s.writeError(w, http.StatusBadRequest, errors.New("niche is required"))
			return
		}
		result, err = s.orch.RunCompetitorAnalysisWorkflow(r.Context(), req.Niche)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown workflow %q", name))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleLogs implements GET /api/logs?component=&since=RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.logger.Warn("Invalid since parameter: %s", raw)
			s.writeError(w, http.StatusBadRequest, errors.New("invalid since parameter (use RFC3339)"))
			return
		}
		since = t
	}
	s.writeJSON(w, http.StatusOK, logx.GetRecentLogEntries(query.Get("component"), since))
}
