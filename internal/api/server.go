// Package api serves the read-only HTTP view of a running controller:
// live agent and segment state, stored outcomes and charts.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/banshee-data/traffic.control/internal/coordination"
	"github.com/banshee-data/traffic.control/internal/db"
	"github.com/banshee-data/traffic.control/internal/httputil"
	"github.com/banshee-data/traffic.control/internal/version"
)

// Status is the live state the API reports. *coordination.Manager
// implements it.
type Status interface {
	Tick() uint64
	Agents() []coordination.AgentView
	Agent(id string) (coordination.AgentView, bool)
	Segments() []coordination.SegmentView
	LastSummary() coordination.TickSummary
}

// Store is the outcome history the API reads. *db.DB implements it.
type Store interface {
	Runs(ctx context.Context, limit int) ([]db.Run, error)
	RecentOutcomes(ctx context.Context, f db.OutcomeFilter) ([]db.OutcomeRow, error)
	IntersectionSeries(ctx context.Context, runID, intersectionID string) ([]db.OutcomeRow, error)
	SummarizeRun(ctx context.Context, runID string) (*db.RunSummary, error)
}

const maxLimit = 1000

// Server holds the handlers of the HTTP API.
type Server struct {
	status  Status
	store   Store
	runID   string
	metrics http.Handler
	debug   http.Handler
	logOut  io.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the history routes. Without a store they answer 503.
func WithStore(s Store) Option { return func(srv *Server) { srv.store = s } }

// WithRunID sets the run the chart route uses when none is requested.
func WithRunID(id string) Option { return func(srv *Server) { srv.runID = id } }

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option { return func(srv *Server) { srv.metrics = h } }

// WithDebug mounts h under /debug/.
func WithDebug(h http.Handler) Option { return func(srv *Server) { srv.debug = h } }

// WithAccessLog sends the request log to w instead of the standard logger.
func WithAccessLog(w io.Writer) Option { return func(srv *Server) { srv.logOut = w } }

// NewServer returns the API over status.
func NewServer(status Status, opts ...Option) *Server {
	s := &Server{status: status, logOut: log.Writer()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/agents", s.listAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", s.getAgent).Methods(http.MethodGet)
	r.HandleFunc("/segments", s.listSegments).Methods(http.MethodGet)
	r.HandleFunc("/ticks/last", s.lastTick).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{run}/summary", s.runSummary).Methods(http.MethodGet)
	r.HandleFunc("/outcomes", s.listOutcomes).Methods(http.MethodGet)
	r.HandleFunc("/charts/{id}", s.chart).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	if s.debug != nil {
		r.PathPrefix("/debug/").Handler(s.debug)
	}
	return r
}

// Handler returns the router wrapped with access logging and panic
// recovery.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(s.logOut, s.Router()),
	)
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
	Tick      uint64 `json:"tick"`
	RunID     string `json:"run_id,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, healthResponse{
		Status:    "ok",
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
		Tick:      s.status.Tick(),
		RunID:     s.runID,
	})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.status.Agents())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := s.status.Agent(id)
	if !ok {
		httputil.NotFound(w, "unknown intersection "+id)
		return
	}
	httputil.WriteJSONOK(w, v)
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.status.Segments())
}

type tickResponse struct {
	coordination.TickSummary
	Error string `json:"error,omitempty"`
}

func (s *Server) lastTick(w http.ResponseWriter, r *http.Request) {
	sum := s.status.LastSummary()
	resp := tickResponse{TickSummary: sum}
	if sum.Err != nil {
		resp.Error = sum.Err.Error()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		httputil.ServiceUnavailable(w, "outcome store not configured")
		return false
	}
	return true
}

func parseLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, err := parseLimit(r, 50)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) runSummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	sum, err := s.store.SummarizeRun(r.Context(), mux.Vars(r)["run"])
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, sum)
	}
}

func (s *Server) listOutcomes(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, err := parseLimit(r, 100)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	rows, err := s.store.RecentOutcomes(r.Context(), db.OutcomeFilter{
		RunID:          q.Get("run"),
		IntersectionID: q.Get("intersection"),
		Limit:          limit,
	})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if rows == nil {
		rows = []db.OutcomeRow{}
	}
	httputil.WriteJSONOK(w, rows)
}
