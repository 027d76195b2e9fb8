// Package handlers wires the task queue HTTP API. Handlers decode and
// validate requests, delegate to the application service and translate
// errors into the response envelope.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/response"
	"github.com/labtasker/labtasker/internal/taskqueue/adapters/http/middleware"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

// Deps bundles everything the HTTP layer needs
type Deps struct {
	Service *service.Service
	Hub     *Hub
	Logger  logger.Logger
	Version string
}

// Register mounts the task queue API on the given router, which is
// expected to already carry the /api/v1 prefix. Queue creation and the
// status probe stay public; everything else lives under /queues/me and
// requires queue credentials.
func Register(api *mux.Router, deps Deps) {
	queues := NewQueueHandler(deps.Service, deps.Logger)
	tasks := NewTaskHandler(deps.Service, deps.Logger)
	workers := NewWorkerHandler(deps.Service, deps.Logger)
	collections := NewCollectionHandler(deps.Service, deps.Logger)
	status := NewStatusHandler(deps.Version, deps.Logger)

	queues.RegisterPublicRoutes(api)
	status.RegisterRoutes(api)

	me := api.PathPrefix("/queues/me").Subrouter()
	me.Use(middleware.QueueAuth(deps.Service, deps.Logger))

	queues.RegisterRoutes(me)
	tasks.RegisterRoutes(me)
	workers.RegisterRoutes(me)
	collections.RegisterRoutes(me)

	if deps.Hub != nil {
		NewEventsHandler(deps.Hub, deps.Logger).RegisterRoutes(me)
	}
}

// authedQueue pulls the queue the auth middleware stored on the
// context, answering 401 when it is missing.
func authedQueue(w http.ResponseWriter, r *http.Request) (*model.Queue, bool) {
	queue, ok := middleware.QueueFromContext(r.Context())
	if !ok {
		response.Error(w, apperrors.Unauthorized("queue credentials required"))
	}
	return queue, ok
}

// respondError writes the error envelope, logging only unexpected
// failures so client mistakes do not flood the error log.
func respondError(w http.ResponseWriter, log logger.Logger, msg string, err error, fields ...interface{}) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		log.Error(msg, append([]interface{}{"error", err}, fields...)...)
	}
	response.Error(w, err)
}
