package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/response"
	"github.com/labtasker/labtasker/internal/taskqueue/adapters/http/dto"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
)

// TaskHandler handles HTTP requests for tasks
type TaskHandler struct {
	service *service.Service
	logger  logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(service *service.Service, logger logger.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers task routes on the authenticated subrouter
func (h *TaskHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tasks", h.SubmitTask).Methods("POST")
	router.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	router.HandleFunc("/tasks/next", h.FetchTask).Methods("POST")
	router.HandleFunc("/tasks/{task_id}", h.GetTask).Methods("GET")
	router.HandleFunc("/tasks/{task_id}", h.UpdateTask).Methods("PUT")
	router.HandleFunc("/tasks/{task_id}", h.DeleteTask).Methods("DELETE")
	router.HandleFunc("/tasks/{task_id}/heartbeat", h.RefreshHeartbeat).Methods("POST")
	router.HandleFunc("/tasks/{task_id}/status", h.ReportStatus).Methods("POST")
	router.HandleFunc("/tasks/{task_id}/cancel", h.CancelTask).Methods("POST")
}

// SubmitTask enqueues a new task on the authenticated queue
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	var req dto.SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	task, err := h.service.SubmitTask(ctx, authed.ID, service.SubmitTaskCommand{
		TaskName:         req.TaskName,
		Args:             req.Args,
		Cmd:              req.Cmd,
		Metadata:         req.Metadata,
		HeartbeatTimeout: req.HeartbeatTimeout,
		TaskTimeout:      req.TaskTimeout,
		MaxRetries:       req.MaxRetries,
		Priority:         req.Priority,
	})
	if err != nil {
		respondError(w, h.logger, "failed to submit task", err, "queue_id", authed.ID)
		return
	}

	response.Created(w, task)
}

// ListTasks returns tasks matching the query parameters
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	limit, _ := strconv.ParseInt(params.Get("limit"), 10, 64)
	offset, _ := strconv.ParseInt(params.Get("offset"), 10, 64)

	extraFilter, err := parseFilterParam(params.Get("extra_filter"))
	if err != nil {
		response.Error(w, apperrors.BadRequest("extra_filter must be a JSON object"))
		return
	}

	tasks, err := h.service.ListTasks(ctx, authed.ID, service.ListTasksQuery{
		TaskID:      params.Get("task_id"),
		TaskName:    params.Get("task_name"),
		ExtraFilter: extraFilter,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		respondError(w, h.logger, "failed to list tasks", err, "queue_id", authed.ID)
		return
	}

	response.Paginated(w, tasks, int(limit), int(offset), len(tasks))
}

// FetchTask atomically claims the highest priority eligible task for a
// worker. Finding nothing to do is a normal outcome and answers 200
// with a null payload.
func (h *TaskHandler) FetchTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	var req dto.FetchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}

	task, err := h.service.FetchTask(ctx, authed.ID, service.FetchTaskCommand{
		WorkerID:         req.WorkerID,
		ETAMax:           req.ETAMax,
		HeartbeatTimeout: req.HeartbeatTimeout,
		StartHeartbeat:   req.StartHeartbeatOrDefault(),
		RequiredFields:   req.RequiredFields,
		ExtraFilter:      req.ExtraFilter,
	})
	if err != nil {
		respondError(w, h.logger, "failed to fetch task", err, "queue_id", authed.ID)
		return
	}

	response.OK(w, task)
}

// GetTask returns a single task by id
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["task_id"]

	task, err := h.service.GetTask(ctx, authed.ID, taskID)
	if err != nil {
		respondError(w, h.logger, "failed to get task", err, "task_id", taskID)
		return
	}

	response.OK(w, task)
}

// UpdateTask rewrites caller-editable fields. Unless reset_pending is
// disabled the task is also requeued with a fresh retry budget, which
// is how failed or cancelled tasks are retried.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["task_id"]

	var req dto.UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}

	task, err := h.service.UpdateTask(ctx, authed.ID, taskID, req.Update, req.ResetPendingOrDefault())
	if err != nil {
		respondError(w, h.logger, "failed to update task", err, "task_id", taskID)
		return
	}

	response.OK(w, task)
}

// DeleteTask removes a task
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["task_id"]

	if err := h.service.DeleteTask(ctx, authed.ID, taskID); err != nil {
		respondError(w, h.logger, "failed to delete task", err, "task_id", taskID)
		return
	}

	response.NoContent(w)
}

// RefreshHeartbeat extends the lease on a running task
func (h *TaskHandler) RefreshHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["task_id"]

	if err := h.service.RefreshTaskHeartbeat(ctx, authed.ID, taskID); err != nil {
		respondError(w, h.logger, "failed to refresh heartbeat", err, "task_id", taskID)
		return
	}

	response.NoContent(w)
}

// ReportStatus records a task outcome reported by its worker
func (h *TaskHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["task_id"]

	var req dto.ReportTaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	task, err := h.service.ReportTaskStatus(ctx, authed.ID, taskID, service.ReportTaskCommand{
		Status:   req.Status,
		Summary:  req.Summary,
		WorkerID: req.WorkerID,
	})
	if err != nil {
		respondError(w, h.logger, "failed to report task status", err, "task_id", taskID)
		return
	}

	response.OK(w, task)
}

// CancelTask cancels a pending or running task
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	taskID := mux.Vars(r)["task_id"]

	task, err := h.service.CancelTask(ctx, authed.ID, taskID)
	if err != nil {
		respondError(w, h.logger, "failed to cancel task", err, "task_id", taskID)
		return
	}

	response.OK(w, task)
}

// parseFilterParam decodes the optional extra_filter query parameter,
// which carries a JSON object in URL-encoded form.
func parseFilterParam(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var filter map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, err
	}
	return filter, nil
}
