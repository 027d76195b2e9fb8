package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec

	// Queue metrics
	QueuesCreated *prometheus.CounterVec
	QueuesDeleted *prometheus.CounterVec

	// Task metrics
	TasksCreated  *prometheus.CounterVec
	TasksFetched  *prometheus.CounterVec
	TasksReported *prometheus.CounterVec
	TasksRequeued *prometheus.CounterVec
	FetchMisses   *prometheus.CounterVec

	// Worker metrics
	WorkersCreated      *prometheus.CounterVec
	WorkerStatusChanges *prometheus.CounterVec

	// Sweeper metrics
	SweepsTotal   prometheus.Counter
	SweepsSkipped prometheus.Counter
	SweepDuration prometheus.Histogram
	TasksSwept    *prometheus.CounterVec

	// Archiver metrics
	ArchiveRuns   prometheus.Counter
	TasksArchived *prometheus.CounterVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec

	// Messaging metrics
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_requests",
				Help:      "Number of active HTTP requests",
			},
			[]string{"method"},
		),

		QueuesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queues_created_total",
				Help:      "Total number of queues created",
			},
			[]string{},
		),
		QueuesDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queues_deleted_total",
				Help:      "Total number of queues deleted",
			},
			[]string{"cascade"},
		),

		TasksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_created_total",
				Help:      "Total number of tasks submitted",
			},
			[]string{"queue_id"},
		),
		TasksFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_fetched_total",
				Help:      "Total number of tasks leased to workers",
			},
			[]string{"queue_id"},
		),
		TasksReported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_reported_total",
				Help:      "Total number of task status reports by outcome",
			},
			[]string{"queue_id", "status"},
		),
		TasksRequeued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_requeued_total",
				Help:      "Total number of tasks reset to pending",
			},
			[]string{"queue_id"},
		),
		FetchMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_misses_total",
				Help:      "Total number of fetch calls that found no task",
			},
			[]string{"queue_id"},
		),

		WorkersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_created_total",
				Help:      "Total number of workers registered",
			},
			[]string{"queue_id"},
		),
		WorkerStatusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_status_changes_total",
				Help:      "Total number of worker status transitions",
			},
			[]string{"queue_id", "status"},
		),

		SweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Total number of timeout sweeps executed",
			},
		),
		SweepsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_skipped_total",
				Help:      "Total number of sweeps skipped because another replica held the lock",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Timeout sweep duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		TasksSwept: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_swept_total",
				Help:      "Total number of tasks transitioned by the timeout sweeper",
			},
			[]string{"queue_id"},
		),

		ArchiveRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_runs_total",
				Help:      "Total number of archival runs",
			},
		),
		TasksArchived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_archived_total",
				Help:      "Total number of terminal tasks exported to object storage",
			},
			[]string{"queue_id"},
		),

		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of failed credential checks",
			},
			[]string{"reason"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache_name"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache_name"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of lifecycle events published",
			},
			[]string{"type"},
		),
	}

	m.register()

	return m
}

func (m *Metrics) register() {
	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPActiveRequests,
		m.QueuesCreated,
		m.QueuesDeleted,
		m.TasksCreated,
		m.TasksFetched,
		m.TasksReported,
		m.TasksRequeued,
		m.FetchMisses,
		m.WorkersCreated,
		m.WorkerStatusChanges,
		m.SweepsTotal,
		m.SweepsSkipped,
		m.SweepDuration,
		m.TasksSwept,
		m.ArchiveRuns,
		m.TasksArchived,
		m.AuthFailures,
		m.CacheHits,
		m.CacheMisses,
		m.EventsPublished,
	)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMetricsMiddleware returns middleware that collects HTTP metrics
func (m *Metrics) HTTPMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPActiveRequests.WithLabelValues(r.Method).Inc()
			defer m.HTTPActiveRequests.WithLabelValues(r.Method).Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	size, err := w.ResponseWriter.Write(b)
	w.size += size
	return size, err
}
