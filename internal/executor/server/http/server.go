package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/pathrunner/internal/executor/core"
	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/internal/executor/lifecycle"
	"github.com/autopeer-io/pathrunner/internal/executor/store"
	"github.com/autopeer-io/pathrunner/internal/pkg/server"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

const reportURLExpiry = 15 * time.Minute

// Executions reads stored executions.
type Executions interface {
	Get(ctx context.Context, id string) (*model.Execution, error)
	List(ctx context.Context, opts store.ListOptions) ([]*model.Execution, error)
}

// Runner starts and stops executions. Implemented by lifecycle.Controller.
type Runner interface {
	Start(ctx context.Context, executionID, robotID string) error
	Stop(ctx context.Context, executionID string) error
}

// ReportLinker signs a download link for an archived report.
type ReportLinker interface {
	ReportURL(ctx context.Context, executionID string, expiry time.Duration) (string, error)
}

// Deps are the collaborators behind the admin routes. Reports may be nil.
type Deps struct {
	Executions Executions
	Runner     Runner
	Reports    ReportLinker
	Ready      []server.ReadinessCheck
}

// Server is the executor's HTTP surface: probes, metrics and the admin API.
type Server struct {
	*server.HTTPServer

	deps Deps
	log  log.Logger
}

func NewServer(opts *options.HttpOptions, deps Deps) *Server {
	s := &Server{deps: deps, log: log.WithName("http")}
	s.HTTPServer = server.NewHTTPServer(opts, s.Router())
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	server.RegisterProbes(r, s.deps.Ready...)

	// Routes hang off the root router so a method mismatch surfaces as 405
	// instead of a subrouter 404.
	r.HandleFunc("/v1/executions", s.listExecutions).Methods(http.MethodGet)
	r.HandleFunc("/v1/executions/{id}", s.getExecution).Methods(http.MethodGet)
	r.HandleFunc("/v1/executions/{id}/start", s.startExecution).Methods(http.MethodPost)
	r.HandleFunc("/v1/executions/{id}/stop", s.stopExecution).Methods(http.MethodPost)
	r.HandleFunc("/v1/executions/{id}/report", s.executionReport).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	return r
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Executions.List(r.Context(), store.ListOptions{
		Status:  model.ExecutionStatus(q.Get("status")),
		RobotID: q.Get("robot_id"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*model.Execution{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Executions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type startRequest struct {
	RobotID string `json:"robot_id"`
}

func (s *Server) startExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.deps.Runner.Start(r.Context(), id, req.RobotID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeExecution(w, r, id, http.StatusAccepted)
}

func (s *Server) stopExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Runner.Stop(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeExecution(w, r, id, http.StatusOK)
}

func (s *Server) executionReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		http.Error(w, "report archive is not configured", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]
	exec, err := s.deps.Executions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !exec.Status.Terminal() {
		http.Error(w, "execution has not finished", http.StatusConflict)
		return
	}

	url, err := s.deps.Reports.ReportURL(r.Context(), id, reportURLExpiry)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) writeExecution(w http.ResponseWriter, r *http.Request, id string, code int) {
	exec, err := s.deps.Executions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, code, exec)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, lifecycle.ErrUnknownExecution):
		code = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrTerminal), errors.Is(err, lifecycle.ErrNoWaypoints), errors.Is(err, lifecycle.ErrNoRobot):
		code = http.StatusConflict
	case errors.Is(err, lifecycle.ErrShuttingDown):
		code = http.StatusServiceUnavailable
	default:
		s.log.Error(err, "Request failed")
	}
	http.Error(w, err.Error(), code)
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
