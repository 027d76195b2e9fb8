package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/response"
	"github.com/labtasker/labtasker/internal/taskqueue/adapters/http/dto"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
)

// CollectionHandler exposes the sanitized raw query surface. Both
// operations are confined to the caller's queue no matter what the
// submitted filter says.
type CollectionHandler struct {
	service *service.Service
	logger  logger.Logger
}

// NewCollectionHandler creates a new collection handler
func NewCollectionHandler(service *service.Service, logger logger.Logger) *CollectionHandler {
	return &CollectionHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers collection routes on the authenticated
// subrouter
func (h *CollectionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/query", h.Query).Methods("POST")
	router.HandleFunc("/update", h.Update).Methods("POST")
}

// Query runs a read-only filter against one collection
func (h *CollectionHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	var req dto.QueryCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	docs, err := h.service.QueryCollection(ctx, authed.ID, service.QueryCollectionCommand{
		Collection: req.Collection,
		Query:      req.Query,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		respondError(w, h.logger, "failed to query collection", err, "collection", req.Collection)
		return
	}

	response.Paginated(w, docs, int(req.Limit), int(req.Offset), len(docs))
}

// Update applies an update document to every match in one collection
func (h *CollectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authed, ok := authedQueue(w, r)
	if !ok {
		return
	}

	var req dto.UpdateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(w, apperrors.BadRequest("%v", err))
		return
	}

	modified, err := h.service.UpdateCollection(ctx, authed.ID, service.UpdateCollectionCommand{
		Collection: req.Collection,
		Query:      req.Query,
		Update:     req.Update,
	})
	if err != nil {
		respondError(w, h.logger, "failed to update collection", err, "collection", req.Collection)
		return
	}

	response.OK(w, dto.ModifiedResponse{Modified: modified})
}
