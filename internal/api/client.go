package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/coordination"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
)

// DefaultClientTimeout bounds each client request.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Client talks to a quorum daemon over the control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client for the daemon at baseURL.
// A nil httpClient uses one with DefaultClientTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			apiErr.Code, apiErr.Message = er.Code, er.Error
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitTask submits a task and returns its ID.
func (c *Client) SubmitTask(ctx context.Context, req SubmitTaskRequest) (string, error) {
	var resp SubmitTaskResponse
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetTask fetches a task.
func (c *Client) GetTask(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

// ListTasks lists tasks, optionally only those in status.
func (c *Client) ListTasks(ctx context.Context, status task.Status) ([]task.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var tasks []task.Task
	err := c.do(ctx, http.MethodGet, path, nil, &tasks)
	return tasks, err
}

// CancelTask requests cancellation and returns the task's status afterwards.
func (c *Client) CancelTask(ctx context.Context, id string) (task.Status, error) {
	var resp SubmitTaskResponse
	err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp.Status, err
}

// TaskAudit returns the recorded decisions for a task.
func (c *Client) TaskAudit(ctx context.Context, id string) ([]audit.Decision, error) {
	var out []audit.Decision
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/audit", nil, &out)
	return out, err
}

// Queue returns the queue depth overall and per band.
func (c *Client) Queue(ctx context.Context) (QueueResponse, error) {
	var out QueueResponse
	err := c.do(ctx, http.MethodGet, "/queue", nil, &out)
	return out, err
}

// Resource returns a resource's capacity and availability.
func (c *Client) Resource(ctx context.Context, id string) (ledger.Resource, error) {
	var out ledger.Resource
	err := c.do(ctx, http.MethodGet, "/resources/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Resources lists every resource.
func (c *Client) Resources(ctx context.Context) ([]ledger.Resource, error) {
	var out []ledger.Resource
	err := c.do(ctx, http.MethodGet, "/resources", nil, &out)
	return out, err
}

// RegisterResource adds a resource to the ledger.
func (c *Client) RegisterResource(ctx context.Context, req RegisterResourceRequest) error {
	return c.do(ctx, http.MethodPost, "/resources", req, nil)
}

// Workers lists registered workers.
func (c *Client) Workers(ctx context.Context) ([]registry.Worker, error) {
	var out []registry.Worker
	err := c.do(ctx, http.MethodGet, "/workers", nil, &out)
	return out, err
}

// RegisterWorker adds a worker to the registry.
func (c *Client) RegisterWorker(ctx context.Context, req RegisterWorkerRequest) error {
	return c.do(ctx, http.MethodPost, "/workers", req, nil)
}

// Heartbeat marks a worker alive. A non-nil load is reported with it.
func (c *Client) Heartbeat(ctx context.Context, workerID string, load *float64) error {
	return c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(workerID)+"/heartbeat", HeartbeatRequest{Load: load}, nil)
}

// Vote casts a validator's vote on a proposal.
func (c *Client) Vote(ctx context.Context, proposalID, validatorID string, approve bool) (quorum.State, error) {
	var out VoteResponse
	err := c.do(ctx, http.MethodPost, "/proposals/"+url.PathEscape(proposalID)+"/votes",
		VoteRequest{ValidatorID: validatorID, Approve: approve}, &out)
	return out.State, err
}

// Proposal fetches a proposal and its votes.
func (c *Client) Proposal(ctx context.Context, id string) (quorum.Proposal, error) {
	var out quorum.Proposal
	err := c.do(ctx, http.MethodGet, "/proposals/"+url.PathEscape(id), nil, &out)
	return out, err
}

// ActiveProposal fetches the open proposal for a task.
func (c *Client) ActiveProposal(ctx context.Context, taskID string) (quorum.Proposal, error) {
	var out quorum.Proposal
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID)+"/proposal", nil, &out)
	return out, err
}

// Stats returns engine counters.
func (c *Client) Stats(ctx context.Context) (coordination.Stats, error) {
	var out coordination.Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

// Health reports whether the daemon is up and scheduling.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}
