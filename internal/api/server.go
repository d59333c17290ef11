package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/coordination"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
)

// Engine is the part of the coordination engine the API serves.
type Engine interface {
	SubmitTask(t task.Task) (string, error)
	GetTask(taskID string) (task.Task, error)
	Tasks(filter func(task.Task) bool) []task.Task
	CancelTask(taskID string) error
	AcknowledgeCancel(taskID string) error
	ReportResult(res task.ExecutionResult) error
	QueueDepth() int
	QueueDepths() map[task.Priority]int
	GetResourceStatus(resourceID string) (ledger.Resource, error)
	Resources() []ledger.Resource
	RegisterResource(r ledger.Resource) error
	RegisterWorker(w registry.Worker) error
	Workers() []registry.Worker
	Heartbeat(workerID string) error
	ReportLoad(workerID string, load float64) error
	CastVote(v quorum.Vote) (quorum.State, error)
	Proposal(proposalID string) (quorum.Proposal, error)
	ActiveProposal(taskID string) (quorum.Proposal, bool)
	Stats() coordination.Stats
	Running() bool
}

var _ Engine = (*coordination.Engine)(nil)

// AuditReader reads recorded decisions.
type AuditReader interface {
	ForTask(ctx context.Context, taskID string) ([]audit.Decision, error)
	Recent(ctx context.Context, limit int) ([]audit.Decision, error)
}

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 4 << 20
)

// Server serves the HTTP control API.
type Server struct {
	engine Engine
	audit  AuditReader
	logger *logging.Logger
	addr   string
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithAudit exposes the decision journal under /tasks/{id}/audit and /audit.
func WithAudit(r AuditReader) Option {
	return func(s *Server) { s.audit = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a Server for engine listening on addr.
func NewServer(engine Engine, addr string, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		addr:   addr,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Tasks
	mux.HandleFunc("POST /tasks", s.submitTask)
	mux.HandleFunc("GET /tasks", s.listTasks)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.cancelTask)
	mux.HandleFunc("POST /tasks/{id}/cancel/ack", s.ackCancel)
	mux.HandleFunc("POST /tasks/{id}/result", s.reportResult)
	mux.HandleFunc("GET /tasks/{id}/proposal", s.activeProposal)
	mux.HandleFunc("GET /tasks/{id}/audit", s.taskAudit)
	mux.HandleFunc("GET /audit", s.recentAudit)
	mux.HandleFunc("GET /queue", s.queue)

	// Resources
	mux.HandleFunc("GET /resources", s.listResources)
	mux.HandleFunc("POST /resources", s.registerResource)
	mux.HandleFunc("GET /resources/{id}", s.getResource)

	// Workers
	mux.HandleFunc("GET /workers", s.listWorkers)
	mux.HandleFunc("POST /workers", s.registerWorker)
	mux.HandleFunc("POST /workers/{id}/heartbeat", s.heartbeat)

	// Proposals
	mux.HandleFunc("GET /proposals/{id}", s.getProposal)
	mux.HandleFunc("POST /proposals/{id}/votes", s.castVote)

	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /health", s.health)
	return mux
}

// Handler returns the API handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.logRequests(s.mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error(), Code: "invalid_input"})
		return false
	}
	return true
}
