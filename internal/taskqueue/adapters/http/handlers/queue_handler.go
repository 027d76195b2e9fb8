package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/response"
	"github.com/labtasker/labtasker/internal/taskqueue/adapters/http/dto"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
)

// QueueHandler handles HTTP requests for queues
type QueueHandler struct {
	service *service.Service
	logger  logger.Logger
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(service *service.Service, logger logger.Logger) *QueueHandler {
	return &QueueHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterPublicRoutes registers the routes that work without queue
// credentials. Queue creation is the entry point for new tenants, so
// it cannot sit behind basic auth.
func (h *QueueHandler) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/queues", h.CreateQueue).Methods("POST")
}

// RegisterRoutes registers routes scoped to the authenticated queue
func (h *QueueHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.GetQueue).Methods("GET")
	router.HandleFunc("", h.UpdateQueue).Methods("PUT")
	router.HandleFunc("", h.DeleteQueue).Methods("DELETE")
}

// CreateQueue registers a new queue
func (h *QueueHandler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.CreateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	queue, err := h.service.CreateQueue(ctx, service.CreateQueueCommand{
		QueueName: req.QueueName,
		Password:  req.Password,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(w, h.logger, "failed to create queue", err, "queue_name", req.QueueName)
		return
	}

	response.Created(w, queue)
}

// GetQueue returns the authenticated queue
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	// Re-read instead of echoing the context copy so metadata updates
	// are visible even when authentication was served from cache.
	queue, err := h.service.GetQueue(ctx, authed.ID, "")
	if err != nil {
		respondError(w, h.logger, "failed to get queue", err, "queue_id", authed.ID)
		return
	}

	response.OK(w, queue)
}

// UpdateQueue renames the queue, rotates its password or merges metadata
func (h *QueueHandler) UpdateQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	var req dto.UpdateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	modified, err := h.service.UpdateQueue(ctx, authed.ID, service.UpdateQueueCommand{
		NewName:        req.NewQueueName,
		NewPassword:    req.NewPassword,
		MetadataUpdate: req.MetadataUpdate,
	})
	if err != nil {
		respondError(w, h.logger, "failed to update queue", err, "queue_id", authed.ID)
		return
	}

	response.OK(w, dto.ModifiedResponse{Modified: modified})
}

// DeleteQueue removes the queue. With cascade_delete=true its tasks and
// workers go with it, otherwise they are left in place as orphans.
func (h *QueueHandler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade_delete"))

	affected, err := h.service.DeleteQueue(ctx, authed.ID, cascade)
	if err != nil {
		respondError(w, h.logger, "failed to delete queue", err, "queue_id", authed.ID)
		return
	}

	response.OK(w, dto.AffectedResponse{Affected: affected})
}
