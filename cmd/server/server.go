package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stageci/internal/core"
	"stageci/internal/ledger"
)

const maxDefinitionSize = 1 << 20

// Server exposes the scheduler over HTTP.
type Server struct {
	scheduler *core.Scheduler
	resolver  core.TaskResolver
	ledger    *ledger.Ledger
	webhook   http.Handler
	logger    *slog.Logger

	// apiToken guards the endpoints that start or stop work. When empty
	// those endpoints are refused.
	apiToken []byte

	// warningsAreErrors, when set, overrides submitted definitions.
	warningsAreErrors *bool

	// ctx bounds every run started through the API.
	ctx context.Context
}

func NewServer(ctx context.Context, scheduler *core.Scheduler, resolver core.TaskResolver, l *ledger.Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scheduler: scheduler,
		resolver:  resolver,
		ledger:    l,
		logger:    logger,
		ctx:       ctx,
	}
}

// Dispatch starts runs for event. It is the webhook callback.
func (s *Server) Dispatch(event core.Event) []core.Handle {
	return s.scheduler.Dispatch(s.ctx, event)
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.webhook != nil {
		r.Method(http.MethodPost, "/webhook", s.webhook)
	}

	r.Get("/workflows", s.handleListWorkflows)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/ledger/verify", s.handleVerifyLedger)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/events", s.handleEvent)
		r.Post("/workflows", s.handleSubmitWorkflow)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
	})
	return r
}

// requireToken admits requests carrying "Authorization: Bearer <token>".
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiToken) == 0 {
			writeError(w, http.StatusForbidden, "api disabled: no api token configured")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), s.apiToken) != 1 {
			s.logger.Warn("unauthorized api request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="stageci"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventRequest struct {
	Kind       core.EventKind `json:"kind"`
	Branch     string         `json:"branch"`
	Repository string         `json:"repository,omitempty"`
	Commit     string         `json:"commit,omitempty"`
}

// POST /events -> dispatch a triggering event without a webhook
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event kind "+string(req.Kind))
		return
	}
	if req.Branch == "" {
		writeError(w, http.StatusBadRequest, "branch is required")
		return
	}

	handles := s.Dispatch(core.Event{
		Kind:       req.Kind,
		Branch:     req.Branch,
		Repository: req.Repository,
		Commit:     req.Commit,
	})
	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ID)
	}
	s.logger.Info("event dispatched",
		"event", req.Kind,
		"branch", req.Branch,
		"runs", len(ids),
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"runs": ids})
}

// POST /workflows -> register a workflow definition (YAML body)
func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	def, err := core.ParseDefinition(data, r.URL.Query().Get("name"), s.resolver)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "invalid workflow",
				"issues": verr.Issues,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.warningsAreErrors != nil {
		def.SetWarningsAreErrors(*s.warningsAreErrors)
	}
	s.scheduler.Register(def)
	s.logger.Info("workflow registered",
		"workflow", def.Name,
		"jobs", len(def.Pipelines),
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusCreated, newWorkflowView(def))
}

type workflowView struct {
	Name     string        `json:"name"`
	Triggers core.Triggers `json:"on"`
	Jobs     []string      `json:"jobs"`
}

func newWorkflowView(def *core.Definition) workflowView {
	v := workflowView{Name: def.Name, Triggers: def.Triggers, Jobs: make([]string, 0, len(def.Pipelines))}
	for _, p := range def.Pipelines {
		v.Jobs = append(v.Jobs, p.Job)
	}
	return v
}

// GET /workflows
func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	defs := s.scheduler.Definitions()
	out := make([]workflowView, 0, len(defs))
	for _, def := range defs {
		out = append(out, newWorkflowView(def))
	}
	writeJSON(w, http.StatusOK, out)
}

type runView struct {
	ID        string            `json:"id"`
	Pipeline  string            `json:"pipeline"`
	Event     core.Event        `json:"event"`
	State     core.State        `json:"state"`
	CreatedAt time.Time         `json:"createdAt"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Steps     []core.StepResult `json:"steps,omitempty"`
	Outcome   *core.Outcome     `json:"outcome,omitempty"`
}

func newRunView(run *core.Run, withSteps bool) runView {
	v := runView{
		ID:        run.ID,
		Pipeline:  run.Pipeline.Name(),
		Event:     run.Event,
		State:     run.State(),
		CreatedAt: run.CreatedAt,
	}
	started, ended := run.Times()
	if !started.IsZero() {
		v.StartedAt = &started
	}
	if !ended.IsZero() {
		v.EndedAt = &ended
	}
	if o, ok := run.Outcome(); ok {
		v.Outcome = &o
	}
	if withSteps {
		v.Steps = run.Steps()
	}
	return v
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.scheduler.Runs()
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.scheduler.Run(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrRunNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, newRunView(run, true))
}

// POST /runs/{id}/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := s.scheduler.Cancel(id); {
	case errors.Is(err, core.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrRunFinished):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Info("run cancel requested", "run", id, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	}
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger disabled")
		return
	}
	if err := s.ledger.Verify(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "entries": s.ledger.Len(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": s.ledger.Len()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
