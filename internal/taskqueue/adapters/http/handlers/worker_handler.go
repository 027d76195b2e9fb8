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

// WorkerHandler handles HTTP requests for workers
type WorkerHandler struct {
	service *service.Service
	logger  logger.Logger
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(service *service.Service, logger logger.Logger) *WorkerHandler {
	return &WorkerHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers worker routes on the authenticated subrouter
func (h *WorkerHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workers", h.CreateWorker).Methods("POST")
	router.HandleFunc("/workers", h.ListWorkers).Methods("GET")
	router.HandleFunc("/workers/{worker_id}", h.GetWorker).Methods("GET")
	router.HandleFunc("/workers/{worker_id}", h.DeleteWorker).Methods("DELETE")
	router.HandleFunc("/workers/{worker_id}/status", h.ReportStatus).Methods("POST")
}

// CreateWorker registers a worker on the authenticated queue. The body
// is optional; an empty request registers an anonymous worker.
func (h *WorkerHandler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	var req dto.CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}

	worker, err := h.service.CreateWorker(ctx, authed.ID, service.CreateWorkerCommand{
		WorkerName: req.WorkerName,
		Metadata:   req.Metadata,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		respondError(w, h.logger, "failed to create worker", err, "queue_id", authed.ID)
		return
	}

	response.Created(w, worker)
}

// ListWorkers returns workers matching the query parameters
func (h *WorkerHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
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

	workers, err := h.service.ListWorkers(ctx, authed.ID, service.ListWorkersQuery{
		WorkerID:    params.Get("worker_id"),
		WorkerName:  params.Get("worker_name"),
		ExtraFilter: extraFilter,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		respondError(w, h.logger, "failed to list workers", err, "queue_id", authed.ID)
		return
	}

	response.Paginated(w, workers, int(limit), int(offset), len(workers))
}

// GetWorker returns a single worker by id
func (h *WorkerHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	workerID := mux.Vars(r)["worker_id"]

	worker, err := h.service.GetWorker(ctx, authed.ID, workerID)
	if err != nil {
		respondError(w, h.logger, "failed to get worker", err, "worker_id", workerID)
		return
	}

	response.OK(w, worker)
}

// DeleteWorker removes a worker. Unless cascade_update is disabled,
// tasks still assigned to it are released back to pending.
func (h *WorkerHandler) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	workerID := mux.Vars(r)["worker_id"]

	cascade := true
	if raw := r.URL.Query().Get("cascade_update"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cascade = v
		}
	}

	if err := h.service.DeleteWorker(ctx, authed.ID, workerID, cascade); err != nil {
		respondError(w, h.logger, "failed to delete worker", err, "worker_id", workerID)
		return
	}

	response.NoContent(w)
}

// ReportStatus records a worker state change
func (h *WorkerHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	workerID := mux.Vars(r)["worker_id"]

	var req dto.ReportWorkerStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	worker, err := h.service.ReportWorkerStatus(ctx, authed.ID, workerID, req.Status)
	if err != nil {
		respondError(w, h.logger, "failed to report worker status", err, "worker_id", workerID)
		return
	}

	response.OK(w, worker)
}
