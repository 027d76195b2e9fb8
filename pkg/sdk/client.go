// Package sdk provides a Go client library for the labtasker API
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the labtasker API client. Credentials are the queue name
// and password; every queue-scoped call authenticates with them.
type Client struct {
	baseURL    string
	queueName  string
	password   string
	httpClient *http.Client

	// Service clients
	Queues      *QueueService
	Tasks       *TaskService
	Workers     *WorkerService
	Collections *CollectionService
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCredentials sets the queue credentials used for authentication
func WithCredentials(queueName, password string) ClientOption {
	return func(c *Client) {
		c.queueName = queueName
		c.password = password
	}
}

// NewClient creates a new labtasker API client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	// Apply options
	for _, opt := range opts {
		opt(c)
	}

	// Initialize service clients
	c.Queues = &QueueService{client: c}
	c.Tasks = &TaskService{client: c}
	c.Workers = &WorkerService{client: c}
	c.Collections = &CollectionService{client: c}

	return c
}

// request makes an HTTP request to the API
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	// Set headers
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Set authentication
	if c.queueName != "" {
		req.SetBasicAuth(c.queueName, c.password)
	}

	return c.httpClient.Do(req)
}

// envelope mirrors the API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errorInfo      `json:"error,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do runs a request and decodes the enveloped response into v. A 204
// reply and a null data field both leave v untouched.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, v interface{}) (*Meta, error) {
	resp, err := c.request(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	if v != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return env.Meta, nil
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is an API not-found error
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

// Health reports the server status as seen by the readiness probe.
// The returned string is "healthy", "degraded" or "unhealthy".
func (c *Client) Health(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, http.MethodGet, "/health/ready", nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode health response: %w", err)
	}
	return body.Status, nil
}

// Status retrieves the server version and system snapshot
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// QueueService handles queue operations
type QueueService struct {
	client *Client
}

// Create registers a new queue. It does not require credentials.
func (s *QueueService) Create(ctx context.Context, req *CreateQueueRequest) (*Queue, error) {
	var queue Queue
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues", nil, req, &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// Get retrieves the authenticated queue
func (s *QueueService) Get(ctx context.Context) (*Queue, error) {
	var queue Queue
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/queues/me", nil, nil, &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// Update renames the queue, rotates its password, or merges metadata.
// Returns the number of modified documents.
func (s *QueueService) Update(ctx context.Context, req *UpdateQueueRequest) (int64, error) {
	var result ModifiedResult
	if _, err := s.client.do(ctx, http.MethodPut, "/api/v1/queues/me", nil, req, &result); err != nil {
		return 0, err
	}
	return result.Modified, nil
}

// Delete removes the authenticated queue. With cascade the queue's
// tasks and workers go with it. Returns the number of deleted
// documents.
func (s *QueueService) Delete(ctx context.Context, cascade bool) (int64, error) {
	query := url.Values{}
	if cascade {
		query.Set("cascade_delete", "true")
	}
	var result AffectedResult
	if _, err := s.client.do(ctx, http.MethodDelete, "/api/v1/queues/me", query, nil, &result); err != nil {
		return 0, err
	}
	return result.Affected, nil
}

// TaskService handles task operations
type TaskService struct {
	client *Client
}

// Submit enqueues a new task
func (s *TaskService) Submit(ctx context.Context, req *SubmitTaskRequest) (*Task, error) {
	var task Task
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/tasks", nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// List retrieves tasks matching the given options
func (s *TaskService) List(ctx context.Context, opts *ListTasksOptions) ([]Task, *Meta, error) {
	query := url.Values{}
	if opts != nil {
		if opts.TaskName != "" {
			query.Set("task_name", opts.TaskName)
		}
		if len(opts.ExtraFilter) > 0 {
			filter, err := json.Marshal(opts.ExtraFilter)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode extra filter: %w", err)
			}
			query.Set("extra_filter", string(filter))
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	var tasks []Task
	meta, err := s.client.do(ctx, http.MethodGet, "/api/v1/queues/me/tasks", query, nil, &tasks)
	if err != nil {
		return nil, nil, err
	}
	return tasks, meta, nil
}

// Fetch leases the next eligible task. It returns nil without error
// when no task matches.
func (s *TaskService) Fetch(ctx context.Context, req *FetchTaskRequest) (*Task, error) {
	var task Task
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/tasks/next", nil, req, &task); err != nil {
		return nil, err
	}
	if task.TaskID == "" {
		return nil, nil
	}
	return &task, nil
}

// Get retrieves a task by id
func (s *TaskService) Get(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/queues/me/tasks/"+taskID, nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Update rewrites caller-editable task fields. With ResetPending unset
// or true, a terminal task is requeued with a fresh retry budget.
func (s *TaskService) Update(ctx context.Context, taskID string, req *UpdateTaskRequest) (*Task, error) {
	var task Task
	if _, err := s.client.do(ctx, http.MethodPut, "/api/v1/queues/me/tasks/"+taskID, nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Delete removes a task
func (s *TaskService) Delete(ctx context.Context, taskID string) error {
	_, err := s.client.do(ctx, http.MethodDelete, "/api/v1/queues/me/tasks/"+taskID, nil, nil, nil)
	return err
}

// Heartbeat refreshes the lease on a running task
func (s *TaskService) Heartbeat(ctx context.Context, taskID string) error {
	_, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/tasks/"+taskID+"/heartbeat", nil, nil, nil)
	return err
}

// Report reports a task outcome: success, failed or cancelled
func (s *TaskService) Report(ctx context.Context, taskID string, req *ReportTaskStatusRequest) (*Task, error) {
	var task Task
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/tasks/"+taskID+"/status", nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Cancel cancels a pending or running task
func (s *TaskService) Cancel(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/tasks/"+taskID+"/cancel", nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// WorkerService handles worker operations
type WorkerService struct {
	client *Client
}

// Create registers a new worker. A nil request registers an anonymous
// worker with the default retry budget.
func (s *WorkerService) Create(ctx context.Context, req *CreateWorkerRequest) (*Worker, error) {
	var worker Worker
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/workers", nil, req, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// List retrieves workers matching the given options
func (s *WorkerService) List(ctx context.Context, opts *ListWorkersOptions) ([]Worker, *Meta, error) {
	query := url.Values{}
	if opts != nil {
		if opts.WorkerName != "" {
			query.Set("worker_name", opts.WorkerName)
		}
		if len(opts.ExtraFilter) > 0 {
			filter, err := json.Marshal(opts.ExtraFilter)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode extra filter: %w", err)
			}
			query.Set("extra_filter", string(filter))
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	var workers []Worker
	meta, err := s.client.do(ctx, http.MethodGet, "/api/v1/queues/me/workers", query, nil, &workers)
	if err != nil {
		return nil, nil, err
	}
	return workers, meta, nil
}

// Get retrieves a worker by id
func (s *WorkerService) Get(ctx context.Context, workerID string) (*Worker, error) {
	var worker Worker
	if _, err := s.client.do(ctx, http.MethodGet, "/api/v1/queues/me/workers/"+workerID, nil, nil, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// Report reports a worker state change: active, suspended or failed
func (s *WorkerService) Report(ctx context.Context, workerID, status string) (*Worker, error) {
	req := ReportWorkerStatusRequest{Status: status}
	var worker Worker
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/workers/"+workerID+"/status", nil, req, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// Delete removes a worker. Unless cascadeUpdate is false, tasks held
// by the worker lose their assignment and are reclaimed by the
// timeout sweeper.
func (s *WorkerService) Delete(ctx context.Context, workerID string, cascadeUpdate bool) error {
	query := url.Values{}
	query.Set("cascade_update", strconv.FormatBool(cascadeUpdate))
	_, err := s.client.do(ctx, http.MethodDelete, "/api/v1/queues/me/workers/"+workerID, query, nil, nil)
	return err
}

// CollectionService handles the raw query surface
type CollectionService struct {
	client *Client
}

// Query runs a sanitized raw query against one of the queue-scoped
// collections (queues, tasks, workers)
func (s *CollectionService) Query(ctx context.Context, req *QueryCollectionRequest) ([]map[string]interface{}, *Meta, error) {
	var docs []map[string]interface{}
	meta, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/query", nil, req, &docs)
	if err != nil {
		return nil, nil, err
	}
	return docs, meta, nil
}

// Update applies a sanitized raw update to every matching document in
// one of the queue-scoped collections. Returns the number of modified
// documents.
func (s *CollectionService) Update(ctx context.Context, req *UpdateCollectionRequest) (int64, error) {
	var result ModifiedResult
	if _, err := s.client.do(ctx, http.MethodPost, "/api/v1/queues/me/update", nil, req, &result); err != nil {
		return 0, err
	}
	return result.Modified, nil
}
