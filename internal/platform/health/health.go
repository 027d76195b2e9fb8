// Package health provides health check functionality for services
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check represents a single health check
type Check struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms"`
}

// Response is the health check response
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Service   string            `json:"service,omitempty"`
	Checks    map[string]*Check `json:"checks,omitempty"`
	Uptime    time.Duration     `json:"uptime_seconds,omitempty"`
}

// Checker is a function that performs a health check
type Checker func(ctx context.Context) error

type registration struct {
	checker  Checker
	optional bool
}

// Handler manages health checks for a service
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]registration
	service   string
	version   string
	startTime time.Time
}

// NewHandler creates a new health handler
func NewHandler(service, version string) *Handler {
	return &Handler{
		checks:    make(map[string]registration),
		service:   service,
		version:   version,
		startTime: time.Now(),
	}
}

// AddCheck registers a critical health check. A failing critical check
// marks the whole service unhealthy.
func (h *Handler) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registration{checker: checker}
}

// AddOptionalCheck registers a non-critical health check. A failing
// optional check degrades the service but keeps it ready.
func (h *Handler) AddOptionalCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registration{checker: checker, optional: true}
}

// Check runs all health checks and returns the result
func (h *Handler) Check(ctx context.Context) *Response {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := &Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Service:   h.service,
		Checks:    make(map[string]*Check),
		Uptime:    time.Since(h.startTime),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, reg := range h.checks {
		wg.Add(1)
		go func(name string, reg registration) {
			defer wg.Done()

			start := time.Now()
			err := reg.checker(ctx)
			latency := time.Since(start)

			check := &Check{
				Name:    name,
				Status:  StatusHealthy,
				Latency: latency / time.Millisecond,
			}

			if err != nil {
				check.Message = err.Error()
				if reg.optional {
					check.Status = StatusDegraded
				} else {
					check.Status = StatusUnhealthy
				}
			}

			mu.Lock()
			resp.Checks[name] = check
			switch check.Status {
			case StatusUnhealthy:
				resp.Status = StatusUnhealthy
			case StatusDegraded:
				if resp.Status == StatusHealthy {
					resp.Status = StatusDegraded
				}
			}
			mu.Unlock()
		}(name, reg)
	}

	wg.Wait()
	return resp
}

// LivenessHandler returns an HTTP handler for liveness probe
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns an HTTP handler for readiness probe.
// A degraded service is still ready; only critical failures return 503.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// HealthHandler returns an HTTP handler for detailed health check
func (h *Handler) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		resp := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
