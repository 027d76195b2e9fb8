// Package server assembles the task queue service: storage, cache,
// event sinks, background jobs and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/labtasker/labtasker/internal/platform/auth"
	"github.com/labtasker/labtasker/internal/platform/cache"
	"github.com/labtasker/labtasker/internal/platform/config"
	"github.com/labtasker/labtasker/internal/platform/health"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/messaging/kafka"
	"github.com/labtasker/labtasker/internal/platform/metrics"
	"github.com/labtasker/labtasker/internal/platform/storage"
	"github.com/labtasker/labtasker/internal/platform/telemetry"
	"github.com/labtasker/labtasker/internal/taskqueue/adapters/http/handlers"
	"github.com/labtasker/labtasker/internal/taskqueue/adapters/repository/mongodb"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
	"github.com/labtasker/labtasker/pkg/middleware"
)

const metricsNamespace = "labtasker"

// Server represents the task queue server
type Server struct {
	config     *config.Config
	logger     logger.Logger
	telemetry  *telemetry.Telemetry
	httpServer *http.Server

	store     *mongodb.Store
	cache     *cache.RedisCache
	publisher *kafka.EventPublisher
	metrics   *metrics.Metrics
	hub       *handlers.Hub
	service   *service.Service
	sweeper   *service.Sweeper
	archiver  *service.Archiver
	health    *health.Handler
}

// Option is a server configuration option
type Option func(*Server)

// WithConfig sets the server config
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithLogger sets the server logger
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

// WithTelemetry sets the server telemetry
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) {
		s.telemetry = t
	}
}

// New creates a new server instance
func New(opts ...Option) (*Server, error) {
	s := &Server{}

	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if s.logger == nil {
		s.logger = logger.New(s.config.Logger)
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return s, nil
}

func (s *Server) initialize() error {
	ctx := context.Background()

	// Document store
	store, err := mongodb.NewStore(ctx, mongodb.Config{
		URI:            s.config.Mongo.URI,
		Database:       s.config.Mongo.Database,
		ConnectTimeout: s.config.Mongo.ConnectTimeout,
		MaxPoolSize:    s.config.Mongo.MaxPoolSize,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	s.store = store

	// Credential cache and sweep lock (optional)
	if s.config.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cache.Config{
			Host:         s.config.Redis.Host,
			Port:         s.config.Redis.Port,
			Password:     s.config.Redis.Password,
			DB:           s.config.Redis.DB,
			PoolSize:     s.config.Redis.PoolSize,
			DialTimeout:  s.config.Redis.DialTimeout,
			ReadTimeout:  s.config.Redis.ReadTimeout,
			WriteTimeout: s.config.Redis.WriteTimeout,
			KeyPrefix:    metricsNamespace,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		s.cache = redisCache
	}

	// Lifecycle event publisher (optional)
	if s.config.Kafka.Enabled {
		publisher, err := kafka.NewEventPublisher(&kafka.Config{
			Brokers: s.config.Kafka.Brokers,
			Topic:   s.config.Kafka.Topic,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		s.publisher = publisher
	}

	if s.telemetry == nil {
		t, err := telemetry.New(telemetry.Config{
			ServiceName:    s.config.Telemetry.ServiceName,
			Version:        s.config.Version,
			Environment:    s.config.Service.Environment,
			JaegerEndpoint: s.config.Telemetry.JaegerEndpoint,
			Enabled:        s.config.Telemetry.TracingEnabled,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		s.telemetry = t
	}

	s.metrics = metrics.NewMetrics(metricsNamespace)

	// Event fan-out to websocket subscribers
	s.hub = handlers.NewHub(s.logger)
	go s.hub.Run()

	sinks := []service.EventSink{s.hub}
	if s.publisher != nil {
		sinks = append(sinks, s.publisher)
	}

	opts := []service.Option{
		service.WithEventSinks(sinks...),
		service.WithCredentialTTL(s.config.Auth.CredentialTTL),
	}
	if s.cache != nil {
		opts = append(opts, service.WithCache(s.cache))
	}

	hasher := auth.NewHasher(s.config.Auth.BcryptCost)
	s.service = service.New(s.store, hasher, s.metrics, s.logger, opts...)

	// Timeout sweeper; with Redis, a distributed lock keeps replicas
	// from sweeping concurrently
	var locker service.Locker
	if s.cache != nil {
		locker = s.cache.NewLock("timeout_sweep", s.config.Sweeper.LockTTL)
	}
	s.sweeper = service.NewSweeper(s.service, s.config.Sweeper.Interval, locker)

	// Terminal task archival (optional)
	if s.config.Archiver.Enabled {
		s3Client, err := storage.NewS3Client(ctx, storage.S3Config{
			Bucket:          s.config.Archiver.Bucket,
			Region:          s.config.Archiver.Region,
			Endpoint:        s.config.Archiver.Endpoint,
			AccessKeyID:     s.config.Archiver.AccessKeyID,
			SecretAccessKey: s.config.Archiver.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		schedule := fmt.Sprintf("@every %s", s.config.Archiver.Schedule)
		s.archiver = service.NewArchiver(s.service, s3Client, s.config.Archiver.Retention, schedule, 0)
	}

	s.health = health.NewHandler(s.config.Service.Name, s.config.Version)
	s.health.AddCheck("mongodb", s.store.Ping)
	if s.cache != nil {
		s.health.AddOptionalCheck("redis", s.cache.Health)
	}
	if s.publisher != nil {
		s.health.AddOptionalCheck("kafka", s.publisher.Health)
	}

	s.setupHTTPServer()

	return nil
}

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()

	// Add middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(&middleware.RecoveryConfig{
		Logger:     s.logger,
		StackTrace: true,
	}))
	router.Use(middleware.Logging(&middleware.LoggingConfig{
		Logger:    s.logger,
		SkipPaths: []string{"/health", "/health/live", "/health/ready", "/metrics"},
	}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.HTTP.RateLimitPerMinute > 0 {
		rateLimit := middleware.DefaultRateLimitConfig()
		rateLimit.RequestsPerMinute = s.config.HTTP.RateLimitPerMinute
		rateLimit.BurstSize = s.config.HTTP.RateLimitBurst
		rateLimit.SkipPaths = []string{"/health", "/health/live", "/health/ready", "/metrics"}
		router.Use(middleware.RateLimit(rateLimit))
	}
	if s.config.Telemetry.MetricsEnabled {
		router.Use(s.metrics.HTTPMetricsMiddleware())
	}
	router.Use(s.telemetry.Middleware())

	// Health checks
	router.HandleFunc("/health", s.health.HealthHandler()).Methods("GET")
	router.HandleFunc("/health/live", s.health.LivenessHandler()).Methods("GET")
	router.HandleFunc("/health/ready", s.health.ReadinessHandler()).Methods("GET")
	if s.config.Telemetry.MetricsEnabled {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	handlers.Register(api, handlers.Deps{
		Service: s.service,
		Hub:     s.hub,
		Logger:  s.logger,
		Version: s.config.Version,
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

// Start starts the background jobs and the HTTP server. It blocks
// until the HTTP server stops.
func (s *Server) Start() error {
	if err := s.sweeper.Start(); err != nil {
		return err
	}
	if s.archiver != nil {
		if err := s.archiver.Start(); err != nil {
			return err
		}
	}

	s.logger.Info("starting http server",
		"port", s.config.HTTP.Port,
		"version", s.config.Version,
	)
	return s.httpServer.ListenAndServe()
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully shuts down the server. In-flight requests get
// until the context deadline; background jobs finish their current run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var shutdownErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.archiver != nil {
		s.archiver.Stop()
	}
	if s.hub != nil {
		s.hub.Close()
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("event publisher close error", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("cache close error", "error", err)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Close(); err != nil {
			s.logger.Error("telemetry close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(ctx); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	return shutdownErr
}
