package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
)

// SubmitTaskRequest is the body of POST /tasks.
type SubmitTaskRequest struct {
	ID           string            `json:"id,omitempty"`
	Type         string            `json:"type,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Requirements task.Requirements `json:"requirements"`
	Proof        *task.Proof       `json:"proof,omitempty"`
	MaxRetries   int               `json:"max_retries,omitempty"`
}

// SubmitTaskResponse is returned by POST /tasks.
type SubmitTaskResponse struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
}

// QueueResponse is returned by GET /queue.
type QueueResponse struct {
	Depth int            `json:"depth"`
	Bands map[string]int `json:"bands"`
}

// RegisterResourceRequest is the body of POST /resources.
type RegisterResourceRequest struct {
	ID       string            `json:"id"`
	Type     task.ResourceType `json:"type"`
	Capacity uint64            `json:"capacity"`
}

// RegisterWorkerRequest is the body of POST /workers.
type RegisterWorkerRequest struct {
	ID           string                       `json:"id"`
	Capabilities []string                     `json:"capabilities,omitempty"`
	Capacity     map[task.ResourceType]uint64 `json:"capacity,omitempty"`
	Endpoint     string                       `json:"endpoint,omitempty"`
}

// HeartbeatRequest is the optional body of POST /workers/{id}/heartbeat.
type HeartbeatRequest struct {
	Load *float64 `json:"load,omitempty"`
}

// VoteRequest is the body of POST /proposals/{id}/votes.
type VoteRequest struct {
	ValidatorID string `json:"validator_id"`
	Approve     bool   `json:"approve"`
}

// VoteResponse is returned by POST /proposals/{id}/votes.
type VoteResponse struct {
	ProposalID string       `json:"proposal_id"`
	State      quorum.State `json:"state"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if !decode(w, r, &req) {
		return
	}
	prio, err := task.ParsePriority(req.Priority)
	if err != nil {
		s.writeError(w, r, errors.NewValidationError(err.Error()).WithField("priority"))
		return
	}

	id, err := s.engine.SubmitTask(task.Task{
		ID:           req.ID,
		Type:         req.Type,
		Priority:     prio,
		Payload:      req.Payload,
		Requirements: req.Requirements,
		Proof:        req.Proof,
		MaxRetries:   req.MaxRetries,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitTaskResponse{ID: id, Status: task.StatusPending})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var filter func(task.Task) bool
	if status := task.Status(r.URL.Query().Get("status")); status != "" {
		filter = func(t task.Task) bool { return t.Status == status }
	}
	tasks := s.engine.Tasks(filter)
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.GetTask(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.CancelTask(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTaskStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) ackCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.AcknowledgeCancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTaskStatus(w, r, id, http.StatusOK)
}

func (s *Server) reportResult(w http.ResponseWriter, r *http.Request) {
	var res task.ExecutionResult
	if !decode(w, r, &res) {
		return
	}
	id := r.PathValue("id")
	if res.TaskID == "" {
		res.TaskID = id
	}
	if res.TaskID != id {
		s.writeError(w, r, errors.NewValidationError("task_id does not match path").WithField("task_id").WithValue(res.TaskID))
		return
	}
	if err := s.engine.ReportResult(res); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTaskStatus(w, r, id, http.StatusOK)
}

func (s *Server) writeTaskStatus(w http.ResponseWriter, r *http.Request, id string, code int) {
	t, err := s.engine.GetTask(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, code, SubmitTaskResponse{ID: id, Status: t.Status})
}

func (s *Server) taskAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "audit journal is disabled", Code: errors.CodeNotFound})
		return
	}
	id := r.PathValue("id")
	if _, err := s.engine.GetTask(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	decisions, err := s.audit.ForTask(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []audit.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) recentAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "audit journal is disabled", Code: errors.CodeNotFound})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, errors.NewValidationError("limit must be a positive integer").WithField("limit").WithValue(v))
			return
		}
		limit = n
	}
	decisions, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []audit.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	depths := s.engine.QueueDepths()
	bands := make(map[string]int, len(depths))
	for _, p := range task.Priorities() {
		bands[p.String()] = depths[p]
	}
	writeJSON(w, http.StatusOK, QueueResponse{Depth: s.engine.QueueDepth(), Bands: bands})
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	res := s.engine.Resources()
	if res == nil {
		res = []ledger.Resource{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetResourceStatus(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) registerResource(w http.ResponseWriter, r *http.Request) {
	var req RegisterResourceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.RegisterResource(ledger.Resource{ID: req.ID, Type: req.Type, Capacity: req.Capacity}); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.GetResourceStatus(req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.engine.Workers()
	if workers == nil {
		workers = []registry.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.RegisterWorker(registry.Worker{
		ID:           req.ID,
		Capabilities: req.Capabilities,
		Capacity:     req.Capacity,
		Endpoint:     req.Endpoint,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error(), Code: errors.CodeInvalidInput})
		return
	}

	id := r.PathValue("id")
	var err error
	if req.Load != nil {
		err = s.engine.ReportLoad(id, *req.Load)
	} else {
		err = s.engine.Heartbeat(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Proposal(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) activeProposal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.engine.GetTask(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, ok := s.engine.ActiveProposal(id)
	if !ok {
		s.writeError(w, r, errors.NewNotFoundError("open proposal for task", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if !decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	state, err := s.engine.CastVote(quorum.Vote{ValidatorID: req.ValidatorID, ProposalID: id, Approve: req.Approve})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VoteResponse{ProposalID: id, State: state})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Running: s.engine.Running()}
	code := http.StatusOK
	if !resp.Running {
		resp.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
