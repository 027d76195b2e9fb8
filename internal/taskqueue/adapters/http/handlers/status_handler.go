package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/response"
	"github.com/labtasker/labtasker/internal/platform/sysinfo"
)

// StatusHandler reports server version and host resource usage
type StatusHandler struct {
	version string
	started time.Time
	logger  logger.Logger
}

// StatusResponse is the payload of the status endpoint
type StatusResponse struct {
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	System        *sysinfo.Snapshot `json:"system"`
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(version string, logger logger.Logger) *StatusHandler {
	return &StatusHandler{
		version: version,
		started: time.Now(),
		logger:  logger,
	}
}

// RegisterRoutes registers the status route
func (h *StatusHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/status", h.Status).Methods("GET")
}

// Status returns version, uptime and a host resource snapshot
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, StatusResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		System:        sysinfo.Collect(r.Context()),
	})
}
